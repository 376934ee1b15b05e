package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/TEENet-io/btc-vault/cmd"
	"github.com/TEENet-io/btc-vault/logconfig"
)

func main() {
	// Tool to read environment variables
	v := viper.New()
	v.AutomaticEnv()
	cmd.SetDefaults(v)

	// An optional configuration file, environment variables win.
	configFile := v.GetString(cmd.ENV_CONFIG_FILE_PATH)
	if configFile != "" {
		fmt.Printf("Vault server configuration file = %s\n", configFile)
		if !cmd.FileExists(configFile) {
			fmt.Printf("Vault server configuration file not found: %s\n", configFile)
			os.Exit(1)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Printf("Error reading configuration file, %s\n", err)
			os.Exit(1)
		}
	}

	// Make the configuration
	vsc := cmd.PrepareVaultServerConfig(v)
	if err := vsc.Validate(); err != nil {
		fmt.Printf("Invalid vault server configuration: %s\n", err)
		os.Exit(1)
	}
	logconfig.ConfigFromLevel(vsc.LogLevel)

	fmt.Println("Starting vault server... press Ctrl+C to kill the server")
	// Start server and block.
	if err := cmd.StartVaultServerAndWait(vsc); err != nil {
		fmt.Printf("Vault server stopped: %s\n", err)
		os.Exit(1)
	}
}
