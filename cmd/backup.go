package cmd

import (
	"context"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/aws"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/postgres"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload the full telemetry history to the backup bucket",
	Long:  `Reads every row of the telemetry history table and uploads it to the configured bucket as JSON lines`,
	Run: func(cmd *cobra.Command, args []string) {
		l := newLogger(viper.GetString("LOG_FORMAT"))
		logger = l.Sugar().Named("device_monitor_backup")
		defer logger.Sync()

		serverConfig := loadServerConfig()
		logger.Infof("App name: %s", serverConfig.AppName)

		postgresClient, err := postgres.NewPostgresClient(serverConfig.PostgresURL)
		if err != nil {
			logger.Fatalf("creating postgres client: %s", err)
		}

		count, err := postgresClient.GetRowCount()
		if err != nil {
			logger.Fatalf("getting row count: %s", err)
		}
		logger.Infof("Row count: %d", count)

		rows, err := postgresClient.GetAllRows()
		if err != nil {
			logger.Fatalf("getting all rows from db: %s", err)
		}

		awsClient, err := aws.NewClient(serverConfig)
		if err != nil {
			logger.Fatalf("creating AWS client: %s", err)
		}

		append := false
		err = awsClient.WriteBackupFile(rows, append, awsClient.FullBackupTmpWritePath)
		if err != nil {
			logger.Fatalf("writing backup tmp file: %s", err)
		}

		err = awsClient.UploadBackupFile(context.Background(), awsClient.FullBackupTmpWritePath, awsClient.FullBackupFileKey)
		if err != nil {
			logger.Fatalf("uploading backup file: %s", err)
		}

		logger.Infof("Backed up %d rows", len(rows))
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
