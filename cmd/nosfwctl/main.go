package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version info (set by build)
	Version = "dev"

	cfgFile    string
	baseURL    string
	user       string
	password   string
	outputJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "nosfwctl",
	Short: "nosfw device command-line interface",
	Long: `nosfwctl talks to the administrative HTTP surface of a nosfw device.

It provisions the admin credential, reads and changes the device
configuration, uploads firmware images and restarts the device.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/nosfw/cli.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "device URL, e.g. http://192.168.4.1")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "admin user")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "admin password")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))

	rootCmd.AddCommand(
		newStatusCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newRebootCmd(),
		newFlashCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cli")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/nosfw")
		viper.AddConfigPath(".")
	}

	// NOSFW_URL, NOSFW_USER, NOSFW_PASSWORD
	viper.SetEnvPrefix("NOSFW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}

	baseURL = viper.GetString("url")
	if baseURL == "" {
		baseURL = "http://192.168.4.1"
	}
	user = viper.GetString("user")
	if user == "" {
		user = "admin"
	}
	password = viper.GetString("password")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
