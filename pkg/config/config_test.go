package config

import (
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

func testUnmarshalConfigFIle(t *testing.T, file string) ConfigYAML {
	t.Helper()

	confFile, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	var config ConfigYAML
	err = yaml.Unmarshal(confFile, &config)
	if err != nil {
		t.Fatal(err)
	}
	return config
}

func TestConfigYAML_Verify(t *testing.T) {
	t.Parallel()

	data := []struct {
		testcase string
		// test data
		cfgFile string
		// want
		wantCfg RevDumpConfig
	}{
		{
			"OK: All param is set, any params are not changed",
			"testdata/base.yml",
			RevDumpConfig{
				Version:          "0.1",
				LogLevel:         "debug",
				LogFormat:        "pretty",
				Endpoint:         "http://localhost:8080/trust/v2/revocationList",
				Token:            "11111111-2222-3333-4444-555555555555",
				Timeout:          30,
				RetryMaxAttempts: 5,
				RetryWait:        2,
				OutputDir:        "/var/lib/revdump",
				RevocationsFile:  "uvcis.txt",
				MetadataFile:     "uvcis.json",
				ZerologLevel:     zerolog.DebugLevel,
				ZerologFormat:    PrettyFormat,
				Export:           NoExport,
			},
		},
		{
			"OK: Only version is set, default params are set",
			"testdata/minimum.yml",
			RevDumpConfig{
				Version:          "0.1",
				LogLevel:         LogLevelDefault,
				LogFormat:        LogFormtDefault,
				Endpoint:         EndpointDefault,
				Token:            "",
				Timeout:          TimeoutDefault,
				RetryMaxAttempts: RetryMaxAttemptsDefault,
				RetryWait:        RetryWaitDefault,
				OutputDir:        OutputDirDefault,
				RevocationsFile:  RevocationsFileDefault,
				MetadataFile:     MetadataFileDefault,
				ZerologLevel:     zerolog.InfoLevel,
				ZerologFormat:    JSONFormat,
				Export:           NoExport,
			},
		},
		{
			"OK: DynamoDB export, all param is set",
			"testdata/base-dynamodb.yml",
			RevDumpConfig{
				Version:                  "0.1",
				LogLevel:                 "warn",
				LogFormat:                "json",
				Endpoint:                 EndpointDefault,
				OutputDir:                OutputDirDefault,
				RevocationsFile:          RevocationsFileDefault,
				MetadataFile:             MetadataFileDefault,
				DynamoDBRegion:           "eu-central-1",
				DynamoDBTableName:        "revoked_certs",
				DynamoDBEndpoint:         "http://localhost:8000",
				DynamoDBRetryMaxAttempts: 3,
				DynamoDBTimeout:          120,
				ZerologLevel:             zerolog.WarnLevel,
				ZerologFormat:            JSONFormat,
				Export:                   DynamoDBExport,
			},
		},
		{
			"OK: DynamoDB export, default params are set",
			"testdata/minimum-dynamodb.yml",
			RevDumpConfig{
				Version:           "0.1",
				LogLevel:          LogLevelDefault,
				LogFormat:         LogFormtDefault,
				Endpoint:          EndpointDefault,
				OutputDir:         OutputDirDefault,
				RevocationsFile:   RevocationsFileDefault,
				MetadataFile:      MetadataFileDefault,
				DynamoDBRegion:    "eu-central-1",
				DynamoDBTableName: "revoked_certs",
				DynamoDBTimeout:   DynamoDBTimeoutDefault,
				ZerologLevel:      zerolog.InfoLevel,
				ZerologFormat:     JSONFormat,
				Export:            DynamoDBExport,
			},
		},
	}

	for _, d := range data {
		d := d
		t.Run(d.testcase, func(t *testing.T) {
			t.Parallel()

			cfgYml := testUnmarshalConfigFIle(t, d.cfgFile)

			var cfg RevDumpConfig
			rCfg, errs := cfgYml.Verify(cfg)
			if errs != nil {
				t.Fatalf("unexpected Error '%#v' with: %#v", errs, rCfg)
			}
			if diff := cmp.Diff(d.wantCfg, rCfg); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestConfigYAML_Verify_Errors(t *testing.T) {
	t.Parallel()

	data := []struct {
		testCase string
		// test data
		cfgFile string
		// want
		errs []error
	}{
		{
			"check invalid values",
			"testdata/bad.yml",
			[]error{
				InvalidParameterError{"version", "[0.1]"},
				InvalidParameterError{"log.level", "[error|warn|info|debug]"},
				InvalidParameterError{"log.format", "[json|pretty]"},
				InvalidParameterError{"api.endpoint", "url must start from 'http://' or 'https://'"},
				InvalidParameterError{"api.timeout", "the number of seconds must be >= 0"},
				InvalidParameterError{"retry.max_attempts", "the number of attempts must be >= 0"},
				InvalidParameterError{"retry.wait", "the number of seconds must be >= 0"},
				InvalidParameterError{"output.metadata", "must differ from output.revocations"},
			},
		},
		{
			"check invalid and missing values with DynamoDB",
			"testdata/bad-dynamodb.yml",
			[]error{
				MissingParameterError{"version"},
				MissingParameterError{"export.dynamodb.region"},
				MissingParameterError{"export.dynamodb.table_name"},
				InvalidParameterError{"export.dynamodb.endpoint", "url must start from 'http://' or 'https://'"},
				InvalidParameterError{"export.dynamodb.retry_max_attempts", "the number of retries must be >= 0"},
				InvalidParameterError{"export.dynamodb.timeout", "the number of seconds for timeout must be > 0"},
			},
		},
	}

	for _, d := range data {
		d := d
		t.Run(d.testCase, func(t *testing.T) {
			t.Parallel()

			cfgYml := testUnmarshalConfigFIle(t, d.cfgFile)

			var cfg RevDumpConfig
			rCfg, errs := cfgYml.Verify(cfg)
			if errs == nil {
				t.Fatalf("Expected errors but got config: %#v", rCfg)
			}
			if !reflect.DeepEqual(d.errs, errs) {
				t.Fatalf("Expected errors are '%#v' but got: %#v", d.errs, errs)
			}
			if !reflect.DeepEqual(RevDumpConfig{}, rCfg) {
				t.Fatalf("Expected config to be unchanged but got: %#v", rCfg)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Endpoint != EndpointDefault {
		t.Fatalf("Expected endpoint %s but got %s", EndpointDefault, cfg.Endpoint)
	}
	if cfg.RetryMaxAttempts != 0 || cfg.RetryWait != 0 || cfg.Timeout != 0 {
		t.Fatalf("Expected retry forever without wait or timeout but got: %#v", cfg)
	}
	if cfg.RevocationsFile != "revocations.csv" || cfg.MetadataFile != "revocation_metadata.json" {
		t.Fatalf("unexpected output files: %s, %s", cfg.RevocationsFile, cfg.MetadataFile)
	}
	if cfg.Export != NoExport {
		t.Fatalf("Expected no export but got %v", cfg.Export)
	}
}

func TestRevDumpConfig_ResolveToken(t *testing.T) {
	t.Parallel()

	data := []struct {
		testcase string
		cfgToken string
		envToken string
		// want
		token string
		err   error
	}{
		{"default", "", "", TokenDefault, nil},
		{"from config", "cfg-token", "", "cfg-token", nil},
		{"from environment", "", "env-token", "env-token", nil},
		{"exclusive", "cfg-token", "env-token", "", ErrExclusiveToken},
	}

	for _, d := range data {
		d := d
		t.Run(d.testcase, func(t *testing.T) {
			t.Parallel()

			cfg := RevDumpConfig{Token: d.cfgToken}
			token, err := cfg.ResolveToken(d.envToken)
			if !errors.Is(err, d.err) {
				t.Fatalf("Expected error %v but got %v", d.err, err)
			}
			if token != d.token {
				t.Fatalf("Expected token %q but got %q", d.token, token)
			}
		})
	}
}
