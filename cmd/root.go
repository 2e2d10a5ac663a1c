package cmd

import (
	"github.com/spf13/cobra"

	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "device-monitor",
	Short: "Server for the device monitor dashboard",
	Long:  `Server that classifies gateway telemetry into doors, buttons, radar units and tube trailers and serves the live dashboard`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)
	viper.SetConfigFile(".env")
}

func initConfig() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}
