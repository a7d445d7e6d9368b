/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the Liora Fuzzer commands. Provides common
configuration loading, logging setup, and construction of the guidance
configuration from viper.
*/

package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from files and environment.
func LoadConfig() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.SetEnvPrefix("LIORA")
	viper.AutomaticEnv()

	return nil
}

// SetupLogging configures the process-wide logging defaults.
func SetupLogging() error {
	logLevel := viper.GetString("log_level")
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logrus.SetLevel(level)
	if viper.GetBool("json_logs") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return nil
}

// createFuzzerConfig builds the guidance configuration from viper.
func createFuzzerConfig() *interfaces.FuzzerConfig {
	return &interfaces.FuzzerConfig{
		TestName:                viper.GetString("test_name"),
		OutputDir:               viper.GetString("output_dir"),
		SeedFiles:               viper.GetStringSlice("seed_files"),
		MaxDuration:             viper.GetDuration("max_duration"),
		Timeout:                 viper.GetDuration("timeout"),
		EnableExecutionIndexing: viper.GetBool("enable_execution_indexing"),
		MaxInputSize:            viper.GetInt("max_input_size"),
		GenerateEOFWhenOut:      viper.GetBool("generate_eof_when_out"),
		SpliceSubtree:           viper.GetBool("splice_subtree"),
		StealResponsibility:     viper.GetBool("steal_responsibility"),
		SaveOnlyValid:           viper.GetBool("save_only_valid"),
		TotallyRandom:           viper.GetBool("totally_random"),
		LogLevel:                viper.GetString("log_level"),
		JSONLogs:                viper.GetBool("json_logs"),
		SessionID:               uuid.New().String(),
	}
}
