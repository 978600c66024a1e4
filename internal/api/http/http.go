package http

type Config struct {
	Port        uint   `mapstructure:"port"`
	AdminAPIKey string `mapstructure:"admin_api_key"`
	// CORSOrigins lists dashboard origins. Empty allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`
}
