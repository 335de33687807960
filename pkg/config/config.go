package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/yuxki/revdump/pkg/dump"
)

// The RevDumpConfig struct contains configuration members for running a
// revocation list download. Please refer to the documentation for detailed
// information about each configuration.
type RevDumpConfig struct {
	// From ConfigYAML
	Version                  string
	LogLevel                 string
	LogFormat                string
	Endpoint                 string
	Token                    string
	Timeout                  int
	RetryMaxAttempts         int
	RetryWait                int
	OutputDir                string
	RevocationsFile          string
	MetadataFile             string
	DynamoDBRegion           string
	DynamoDBTableName        string
	DynamoDBEndpoint         string
	DynamoDBRetryMaxAttempts int
	DynamoDBTimeout          int
	// From this struct
	ZerologLevel  zerolog.Level
	ZerologFormat LogFormat
	Export        ExportType
}

// The ConfigYAML is a configuration file in YAML format.
// To indicate a non-specified status, the member of type int should be a pointer.
// This struct instance verifies the instance's own members and creates a RevDumpConfig
// object based on the instance's attributes.
type ConfigYAML struct {
	Version string `yaml:"version"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	API struct {
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
		Timeout  *int   `yaml:"timeout"`
	} `yaml:"api"`
	Retry struct {
		MaxAttempts *int `yaml:"max_attempts"`
		Wait        *int `yaml:"wait"`
	} `yaml:"retry"`
	Output struct {
		Dir         string `yaml:"dir"`
		Revocations string `yaml:"revocations"`
		Metadata    string `yaml:"metadata"`
	} `yaml:"output"`
	Export struct {
		DynamoDB *struct {
			Region           string `yaml:"region"`
			TableName        string `yaml:"table_name"`
			Endpoint         string `yaml:"endpoint"`
			RetryMaxAttempts *int   `yaml:"retry_max_attempts"`
			Timeout          *int   `yaml:"timeout"`
		} `yaml:"dynamodb"`
	} `yaml:"export"`
}

// Supported export type.
type ExportType int

const (
	// Local files only.
	NoExport ExportType = iota
	// Local files, mirrored into DynamoDB.
	DynamoDBExport
)

// Supported log format.
type LogFormat int

const (
	// JSON format.
	JSONFormat LogFormat = iota
	// Pretty format (human readable).
	PrettyFormat
)

// Default values.
const (
	VersionDefault          = "0.1"
	EndpointDefault         = "https://www.cc.bit.admin.ch/trust/v2/revocationList"
	TokenDefault            = "0795dc8b-d8d0-4313-abf2-510b12d50939"
	TimeoutDefault          = 0
	RetryMaxAttemptsDefault = 0
	RetryWaitDefault        = 0
	OutputDirDefault        = "."
	RevocationsFileDefault  = dump.RevocationsFileDefault
	MetadataFileDefault     = dump.MetadataFileDefault
	DynamoDBTimeoutDefault  = 60
	LogLevelDefault         = "info"
	LogFormtDefault         = "json"
)

// MissingParameterError is used when configuration paramemter is missing.
type MissingParameterError struct {
	Param string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf(
		"'%s' parameter is not set or contains an empty value.", e.Param,
	)
}

// InvalidParameterError is used when configuration paramemter is invalid.
type InvalidParameterError struct {
	param       string
	description string
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf(
		"'%s' parameter is invalid: %s",
		e.param,
		e.description,
	)
}

const (
	errsCap2  = 2
	errsCap4  = 4
	errsCap8  = 8
	errsCap16 = 16
)

func markMissRequiredStr(sp string, spName string, errs []error) (string, []error) {
	if sp == "" {
		errs = append(errs, MissingParameterError{spName})
	}
	return sp, errs
}

func specOrDefStr(s string, def string) string {
	if s == "" {
		return def
	}
	return s
}

func specOrDefInt(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

var urlRegexp = regexp.MustCompile(`\Ahttps?://`)

// Default returns the configuration used when no configuration file is
// given. It reproduces the fixed endpoint, token and file names.
func Default() RevDumpConfig {
	y := ConfigYAML{Version: VersionDefault}
	cfg, errs := y.Verify(RevDumpConfig{})
	if errs != nil {
		panic(errs)
	}
	return cfg
}

// ErrExclusiveToken is returned when the token is set both in the
// configuration file and in the environment.
var ErrExclusiveToken = errors.New("REVDUMP_BEARER_TOKEN and .api.token are exclusive")

// ResolveToken returns the bearer token to send. envToken is the value of
// REVDUMP_BEARER_TOKEN; it is exclusive with api.token. When neither is set
// TokenDefault is used.
func (c RevDumpConfig) ResolveToken(envToken string) (string, error) {
	switch {
	case envToken != "" && c.Token != "":
		return "", ErrExclusiveToken
	case envToken != "":
		return envToken, nil
	case c.Token != "":
		return c.Token, nil
	default:
		return TokenDefault, nil
	}
}

// VerifyLogConfig verifies .Log.
func (y ConfigYAML) VerifyLogConfig(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap2)

	if y.Log.Level == "" {
		nCfg.LogLevel = LogLevelDefault
	} else if matched, _ := regexp.MatchString(`\A(?:error|warn|info|debug)\z`, y.Log.Level); !matched {
		errs = append(errs, InvalidParameterError{"log.level", "[error|warn|info|debug]"})
	} else {
		nCfg.LogLevel = y.Log.Level
	}

	switch nCfg.LogLevel {
	case "debug":
		nCfg.ZerologLevel = zerolog.DebugLevel
	case "info":
		nCfg.ZerologLevel = zerolog.InfoLevel
	case "warn":
		nCfg.ZerologLevel = zerolog.WarnLevel
	case "error":
		nCfg.ZerologLevel = zerolog.ErrorLevel
	}

	if y.Log.Format == "" {
		nCfg.LogFormat = LogFormtDefault
	} else if matched, _ := regexp.MatchString(`\A(?:json|pretty)\z`, y.Log.Format); !matched {
		errs = append(errs, InvalidParameterError{"log.format", "[json|pretty]"})
	} else {
		nCfg.LogFormat = y.Log.Format
	}

	switch nCfg.LogFormat {
	case "json":
		nCfg.ZerologFormat = JSONFormat
	case "pretty":
		nCfg.ZerologFormat = PrettyFormat
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyAPIConfig verifies .API.
func (y ConfigYAML) VerifyAPIConfig(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap4)

	// API.Endpoint    Optional (default: EndpointDefault)
	nCfg.Endpoint = specOrDefStr(y.API.Endpoint, EndpointDefault)
	if !urlRegexp.MatchString(nCfg.Endpoint) {
		errs = append(errs, InvalidParameterError{
			"api.endpoint",
			"url must start from 'http://' or 'https://'",
		})
	}

	// API.Token       Optional (file, environment variable or default)
	nCfg.Token = y.API.Token

	// API.Timeout     Optional (default: no timeout)
	switch {
	case y.API.Timeout == nil:
		nCfg.Timeout = TimeoutDefault
	case *y.API.Timeout < 0:
		errs = append(errs, InvalidParameterError{"api.timeout", "the number of seconds must be >= 0"})
	default:
		nCfg.Timeout = *y.API.Timeout
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyRetryConfig verifies .Retry.
func (y ConfigYAML) VerifyRetryConfig(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap2)

	// Retry.MaxAttempts   Optional (default: 0, retry forever)
	switch {
	case y.Retry.MaxAttempts == nil:
		nCfg.RetryMaxAttempts = RetryMaxAttemptsDefault
	case *y.Retry.MaxAttempts < 0:
		errs = append(errs, InvalidParameterError{
			"retry.max_attempts",
			"the number of attempts must be >= 0",
		})
	default:
		nCfg.RetryMaxAttempts = *y.Retry.MaxAttempts
	}

	// Retry.Wait          Optional (default: 0)
	switch {
	case y.Retry.Wait == nil:
		nCfg.RetryWait = RetryWaitDefault
	case *y.Retry.Wait < 0:
		errs = append(errs, InvalidParameterError{"retry.wait", "the number of seconds must be >= 0"})
	default:
		nCfg.RetryWait = *y.Retry.Wait
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyOutputConfig verifies .Output.
func (y ConfigYAML) VerifyOutputConfig(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap2)

	nCfg.OutputDir = specOrDefStr(y.Output.Dir, OutputDirDefault)
	nCfg.RevocationsFile = specOrDefStr(y.Output.Revocations, RevocationsFileDefault)
	nCfg.MetadataFile = specOrDefStr(y.Output.Metadata, MetadataFileDefault)

	if nCfg.RevocationsFile == nCfg.MetadataFile {
		errs = append(errs, InvalidParameterError{
			"output.metadata",
			"must differ from output.revocations",
		})
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyDynamoDBConfig verifies .Export.DynamoDB.
func (y ConfigYAML) VerifyDynamoDBConfig(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap8)

	// Export.DynamoDB.Region            Required
	nCfg.DynamoDBRegion, errs = markMissRequiredStr(y.Export.DynamoDB.Region, "export.dynamodb.region", errs)
	// Export.DynamoDB.TableName         Required
	nCfg.DynamoDBTableName, errs = markMissRequiredStr(y.Export.DynamoDB.TableName, "export.dynamodb.table_name", errs)

	// Export.DynamoDB.Endpoint          Optional (default: DynamoDB Cloud)
	if y.Export.DynamoDB.Endpoint != "" {
		if !urlRegexp.MatchString(y.Export.DynamoDB.Endpoint) {
			errs = append(errs, InvalidParameterError{
				"export.dynamodb.endpoint",
				"url must start from 'http://' or 'https://'",
			})
		}
	}
	nCfg.DynamoDBEndpoint = y.Export.DynamoDB.Endpoint

	// Export.DynamoDB.RetryMaxAttempts  Optional (default: 0)
	switch {
	case y.Export.DynamoDB.RetryMaxAttempts == nil:
		nCfg.DynamoDBRetryMaxAttempts = 0
	case *y.Export.DynamoDB.RetryMaxAttempts < 0:
		errs = append(errs, InvalidParameterError{
			"export.dynamodb.retry_max_attempts",
			"the number of retries must be >= 0",
		})
	default:
		nCfg.DynamoDBRetryMaxAttempts = *y.Export.DynamoDB.RetryMaxAttempts
	}

	// Export.DynamoDB.Timeout           Optional (default: 60)
	switch {
	case y.Export.DynamoDB.Timeout == nil:
		nCfg.DynamoDBTimeout = DynamoDBTimeoutDefault
	case *y.Export.DynamoDB.Timeout <= 0:
		errs = append(errs, InvalidParameterError{
			"export.dynamodb.timeout",
			"the number of seconds for timeout must be > 0",
		})
	default:
		nCfg.DynamoDBTimeout = *y.Export.DynamoDB.Timeout
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}

// VerifyExportConfig verifies .Export.
func (y ConfigYAML) VerifyExportConfig(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	nCfg.Export = NoExport

	// .Export.DynamoDB
	if y.Export.DynamoDB != nil {
		var errs []error
		nCfg, errs = y.VerifyDynamoDBConfig(nCfg)
		if len(errs) != 0 {
			return cfg, errs
		}
		nCfg.Export = DynamoDBExport
	}

	return nCfg, nil
}

// Verify verifies the configuration root '.' using the ConfigYAML.Verify* methods.
// If it detects any invalid parameters, it returns an error slice.
// If there are no errors, it returns nil.
func (y ConfigYAML) Verify(cfg RevDumpConfig) (RevDumpConfig, []error) {
	nCfg := cfg
	errs := make([]error, 0, errsCap16)

	// .Version  Required 0.1 only
	nCfg.Version, errs = markMissRequiredStr(y.Version, "version", errs)
	if y.Version != "" {
		if matched, _ := regexp.MatchString(`\A(?:0\.1)\z`, y.Version); !matched {
			errs = append(errs, InvalidParameterError{"version", "[0.1]"})
		}
	}

	// .Log  Optional error, warn, info, debug (default: info)
	nCfg, logErrs := y.VerifyLogConfig(nCfg)
	if len(logErrs) != 0 {
		errs = append(errs, logErrs...)
	}

	// .API
	nCfg, apiErrs := y.VerifyAPIConfig(nCfg)
	if len(apiErrs) != 0 {
		errs = append(errs, apiErrs...)
	}

	// .Retry
	nCfg, retryErrs := y.VerifyRetryConfig(nCfg)
	if len(retryErrs) != 0 {
		errs = append(errs, retryErrs...)
	}

	// .Output
	nCfg, outputErrs := y.VerifyOutputConfig(nCfg)
	if len(outputErrs) != 0 {
		errs = append(errs, outputErrs...)
	}

	// .Export
	nCfg, exportErrs := y.VerifyExportConfig(nCfg)
	if len(exportErrs) != 0 {
		errs = append(errs, exportErrs...)
	}

	if len(errs) != 0 {
		return cfg, errs
	}
	return nCfg, nil
}
