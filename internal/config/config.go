package config

import (
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	MongoDB  MongoDBConfig
	JWT      JWTConfig
	Mpesa    MpesaConfig
	Paypal   PaypalConfig
	LogLevel string
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// JWTConfig holds JWT-specific configuration
type JWTConfig struct {
	Secret string
}

// MpesaConfig holds Daraja (M-Pesa) API configuration
type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	Paybill        string
	AccountNumber  string
	CallbackURL    string
	Environment    string
}

// PaypalConfig holds PayPal checkout configuration
type PaypalConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string
	ReturnURL    string
	CancelURL    string
}

// Load loads configuration from .env, config files, and environment variables
func Load() (*Config, error) {
	// A missing .env file is fine; environment variables still apply
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file is not found, we'll use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	bindEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("Server.Port", "5000")
	viper.SetDefault("Server.AllowedOrigins", []string{"http://localhost:5173"})
	viper.SetDefault("MongoDB.URI", "mongodb://localhost:27017")
	viper.SetDefault("MongoDB.Database", "silver_shield")
	viper.SetDefault("JWT.Secret", "silver-shield-dev-secret")
	viper.SetDefault("LogLevel", "info")
	viper.SetDefault("Mpesa.Paybill", "522522")
	viper.SetDefault("Mpesa.AccountNumber", "1342183193")
	viper.SetDefault("Mpesa.CallbackURL", "https://example.com/api/donations/mpesa/callback")
	viper.SetDefault("Mpesa.Environment", "sandbox")
	viper.SetDefault("Paypal.Environment", "sandbox")
	viper.SetDefault("Paypal.ReturnURL", "http://localhost:5173/donate")
	viper.SetDefault("Paypal.CancelURL", "http://localhost:5173/donate")
}

// bindEnv maps the conventional environment variable names onto config keys
func bindEnv() {
	_ = viper.BindEnv("Server.Port", "PORT")
	_ = viper.BindEnv("MongoDB.URI", "MONGODB_URI")
	_ = viper.BindEnv("MongoDB.Database", "MONGODB_DATABASE")
	_ = viper.BindEnv("JWT.Secret", "JWT_SECRET")
	_ = viper.BindEnv("Mpesa.ConsumerKey", "MPESA_CONSUMER_KEY")
	_ = viper.BindEnv("Mpesa.ConsumerSecret", "MPESA_CONSUMER_SECRET")
	_ = viper.BindEnv("Mpesa.ShortCode", "MPESA_SHORTCODE")
	_ = viper.BindEnv("Mpesa.Passkey", "MPESA_PASSKEY")
	_ = viper.BindEnv("Mpesa.Paybill", "MPESA_PAYBILL")
	_ = viper.BindEnv("Mpesa.AccountNumber", "MPESA_ACCOUNT_NUMBER")
	_ = viper.BindEnv("Mpesa.CallbackURL", "MPESA_CALLBACK_URL")
	_ = viper.BindEnv("Mpesa.Environment", "MPESA_ENVIRONMENT")
	_ = viper.BindEnv("Paypal.ClientID", "PAYPAL_CLIENT_ID")
	_ = viper.BindEnv("Paypal.ClientSecret", "PAYPAL_CLIENT_SECRET")
	_ = viper.BindEnv("Paypal.Environment", "PAYPAL_ENVIRONMENT")
	_ = viper.BindEnv("Paypal.ReturnURL", "PAYPAL_RETURN_URL")
	_ = viper.BindEnv("Paypal.CancelURL", "PAYPAL_CANCEL_URL")
}
