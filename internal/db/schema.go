package db

const schemaSQL = `
-- ===========================================================================
-- DEVICES
-- ===========================================================================

CREATE TABLE IF NOT EXISTS devices (
  device_id TEXT PRIMARY KEY,
  room_number TEXT,
  status TEXT NOT NULL DEFAULT 'inactive',
  is_online INTEGER NOT NULL DEFAULT 0,
  last_sync TEXT,
  assigned_bundle_id TEXT,
  is_room_evacuated INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  CHECK (status IN ('inactive', 'active')),
  CHECK (status = 'inactive' OR room_number IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_devices_room ON devices(room_number);
CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);

-- ===========================================================================
-- GUESTS (mirrored from the PMS)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS guest_stays (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  room_number TEXT NOT NULL,
  guest_name TEXT NOT NULL,
  check_in TEXT NOT NULL,
  check_out TEXT,
  last_pms_sync TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_guest_stays_room ON guest_stays(room_number, id);

CREATE TABLE IF NOT EXISTS bills (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  room_number TEXT NOT NULL,
  label TEXT NOT NULL,
  amount REAL NOT NULL,
  bill_date TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bills_room ON bills(room_number);

-- ===========================================================================
-- NOTIFICATIONS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS notifications (
  notification_id TEXT PRIMARY KEY,
  device_id TEXT,
  room_number TEXT,
  title TEXT NOT NULL,
  body TEXT NOT NULL,
  notification_type TEXT NOT NULL,
  guest_name TEXT,
  status TEXT NOT NULL DEFAULT 'new',
  scheduled_for TEXT,
  created_at TEXT NOT NULL,
  sent_at TEXT,
  viewed_at TEXT,
  dismissed_at TEXT,
  CHECK (notification_type IN ('welcome', 'farewell', 'manual', 'system')),
  CHECK (status IN ('new', 'sent', 'viewed', 'dismissed'))
);

CREATE INDEX IF NOT EXISTS idx_notifications_device_status ON notifications(device_id, status);
CREATE INDEX IF NOT EXISTS idx_notifications_room_status ON notifications(room_number, status);
CREATE INDEX IF NOT EXISTS idx_notifications_scheduled ON notifications(scheduled_for) WHERE scheduled_for IS NOT NULL;

-- ===========================================================================
-- CONTENT CATALOG (read-only for the core)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS media_bundles (
  bundle_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS media_contents (
  content_id TEXT PRIMARY KEY,
  bundle_id TEXT NOT NULL,
  title TEXT NOT NULL,
  media_type TEXT NOT NULL,
  url TEXT NOT NULL,
  position INTEGER NOT NULL DEFAULT 0,
  duration_seconds INTEGER,
  FOREIGN KEY (bundle_id) REFERENCES media_bundles(bundle_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_media_contents_bundle ON media_contents(bundle_id, position);

CREATE TABLE IF NOT EXISTS apps (
  app_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  package_name TEXT NOT NULL,
  icon_url TEXT,
  is_allowed INTEGER NOT NULL DEFAULT 1,
  position INTEGER NOT NULL DEFAULT 0
);

-- ===========================================================================
-- SETTINGS (singleton row)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS system_settings (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  hotel_name TEXT NOT NULL DEFAULT '',
  hotel_logo_url TEXT NOT NULL DEFAULT '',
  welcome_message TEXT NOT NULL DEFAULT '',
  wifi_ssid TEXT NOT NULL DEFAULT '',
  wifi_password TEXT NOT NULL DEFAULT '',
  front_desk_phone TEXT NOT NULL DEFAULT '',
  pms_base_url TEXT NOT NULL DEFAULT '',
  pms_api_key TEXT NOT NULL DEFAULT '',
  pms_property_id TEXT NOT NULL DEFAULT '',
  pms_connection_status TEXT NOT NULL DEFAULT 'disconnected',
  updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

INSERT OR IGNORE INTO system_settings (id) VALUES (1);

-- ===========================================================================
-- ADMINS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS admins (
  admin_id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL
);
`
