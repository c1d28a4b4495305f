package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrej220/authclear/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validSettings() config.Settings {
	s := config.Defaults()
	s.Switch.Username = "netops"
	s.Switch.Password = "pw"
	return s
}

func TestDefaultsNeedCredentials(t *testing.T) {
	err := config.Defaults().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Username")
	assert.Contains(t, err.Error(), "Password")

	assert.NoError(t, validSettings().Validate())
}

func TestDefaultsLeaveBreakerOff(t *testing.T) {
	s := config.Defaults()
	assert.Zero(t, s.Breaker.Threshold)
	assert.Equal(t, config.DefaultBreakerOpenTimeout, s.Breaker.OpenTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Settings)
		wantErr string
	}{
		{name: "zero concurrency", mutate: func(s *config.Settings) { s.MaxConcurrency = 0 }, wantErr: "MaxConcurrency"},
		{name: "bad port", mutate: func(s *config.Settings) { s.Switch.Port = 70000 }, wantErr: "Port"},
		{name: "zero timeout", mutate: func(s *config.Settings) { s.Switch.CommandTimeout = 0 }, wantErr: "CommandTimeout"},
		{name: "kafka without topic", mutate: func(s *config.Settings) { s.Kafka.Brokers = []string{"kafka:9092"} }, wantErr: "Topic"},
		{name: "kafka bad broker", mutate: func(s *config.Settings) {
			s.Kafka.Brokers = []string{"kafka"}
			s.Kafka.Topic = "nac"
		}, wantErr: "Brokers"},
		{name: "kafka ok", mutate: func(s *config.Settings) {
			s.Kafka.Brokers = []string{"kafka:9092"}
			s.Kafka.Topic = "nac"
		}},
		{name: "breaker disabled", mutate: func(s *config.Settings) { s.Breaker.Threshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	s := config.Defaults()
	err := s.ApplyEnv(envMap(map[string]string{
		config.EnvUsername:       "admin",
		config.EnvPassword:       "secret",
		config.EnvEnablePassword: "enable",
		config.EnvMaxThreads:     " 4 ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "admin", s.Switch.Username)
	assert.Equal(t, "secret", s.Switch.Password)
	assert.Equal(t, "enable", s.Switch.EnablePassword)
	assert.Equal(t, 4, s.MaxConcurrency)
}

func TestApplyEnvKeepsStoreValuesWhenUnset(t *testing.T) {
	s := validSettings()
	require.NoError(t, s.ApplyEnv(envMap(nil)))
	assert.Equal(t, "netops", s.Switch.Username)
	assert.Equal(t, config.DefaultMaxConcurrency, s.MaxConcurrency)
}

func TestApplyEnvRejectsBadMaxThreads(t *testing.T) {
	s := config.Defaults()
	err := s.ApplyEnv(envMap(map[string]string{config.EnvMaxThreads: "many"}))
	assert.ErrorContains(t, err, config.EnvMaxThreads)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("AUTHCLEAR_TEST_VAR=from-file\n"), 0600))
	t.Setenv("AUTHCLEAR_TEST_VAR", "")
	os.Unsetenv("AUTHCLEAR_TEST_VAR")

	require.NoError(t, config.LoadDotEnv(path, true))
	assert.Equal(t, "from-file", os.Getenv("AUTHCLEAR_TEST_VAR"))

	assert.NoError(t, config.LoadDotEnv(filepath.Join(dir, "missing.env"), false))
	assert.Error(t, config.LoadDotEnv(filepath.Join(dir, "missing.env"), true))
	assert.NoError(t, config.LoadDotEnv("", true))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authclear.yaml")
	yaml := `
switch:
  username: netops
  password: pw
  port: 2222
  connectTimeout: 5s
  commandTimeout: 1m
maxConcurrency: 3
breaker:
  threshold: 5
kafka:
  brokers: ["kafka-1:9092"]
  topic: nac-remediation
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	store, err := config.NewStore(config.FileStore, &config.FileConfig{Path: path})
	require.NoError(t, err)
	defer store.Close()

	s := config.Defaults()
	require.NoError(t, store.Load(&s))
	assert.Equal(t, "netops", s.Switch.Username)
	assert.Equal(t, 2222, s.Switch.Port)
	assert.Equal(t, 5*time.Second, s.Switch.ConnectTimeout)
	assert.Equal(t, time.Minute, s.Switch.CommandTimeout)
	assert.Equal(t, 3, s.MaxConcurrency)
	assert.Equal(t, uint32(5), s.Breaker.Threshold)
	assert.Equal(t, config.DefaultBreakerOpenTimeout, s.Breaker.OpenTimeout)
	assert.True(t, s.Kafka.Enabled())
	assert.NoError(t, s.Validate())

	require.NoError(t, store.Save(s))
	reloaded := config.Defaults()
	require.NoError(t, store.Load(&reloaded))
	assert.Equal(t, s, reloaded)
}

func TestNewStoreErrors(t *testing.T) {
	_, err := config.NewStore(config.FileStore, &config.MongoConfig{})
	assert.Error(t, err)

	_, err = config.NewStore(config.StoreType(42), nil)
	assert.ErrorIs(t, err, config.ErrInvalidStoreType)

	_, err = config.ParseStoreType("etcd")
	assert.ErrorIs(t, err, config.ErrInvalidStoreType)

	st, err := config.ParseStoreType("mongo")
	require.NoError(t, err)
	assert.Equal(t, config.MongoStore, st)
}

func TestKafkaSettingsValidate(t *testing.T) {
	assert.NoError(t, config.KafkaSettings{}.Validate())
	assert.NoError(t, config.KafkaSettings{Brokers: []string{"kafka:9092"}, Topic: "nac"}.Validate())
	assert.ErrorContains(t, config.KafkaSettings{Brokers: []string{"kafka:9092"}}.Validate(), "Topic")
	assert.ErrorContains(t, config.KafkaSettings{Brokers: []string{"kafka"}, Topic: "nac"}.Validate(), "Brokers")
}
