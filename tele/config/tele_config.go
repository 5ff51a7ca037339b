// Separate package is workaround to import cycles.
package tele_config

type Config struct { //nolint:maligned
	Enabled           bool   `hcl:"enable"`
	LogDebug          bool   `hcl:"log_debug"`
	ClientID          string `hcl:"client_id"`
	TopicPrefix       string `hcl:"topic_prefix"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	MqttPassword      string `hcl:"mqtt_password"` // secret
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	RetryDelayMs      int    `hcl:"retry_delay_ms"`
	TlsCaFile         string `hcl:"tls_ca_file"`
	PersistPath       string `hcl:"persist_path"`
}
