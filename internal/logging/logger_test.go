package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fogfactory/sidecar/internal/logging"
	"github.com/maxatome/go-testdeep/td"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithLevel(t *testing.T) {
	// Arrange
	core, logs := observer.New(zapcore.DebugLevel)
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	log := logging.WithLevel(zap.New(core), level).With(zap.String("task", "filter"))

	// Act
	log.Info("hidden")
	log.Warn("shown")
	level.SetLevel(zapcore.DebugLevel)
	log.Debug("now shown")

	// Assert
	td.Cmp(t, logs.AllUntimed(), td.Len(2))
	td.Cmp(t, logs.FilterMessage("now shown").Len(), 1)
	td.Cmp(t, logs.FilterField(zap.String("task", "filter")).Len(), 2)
}

func TestNew(t *testing.T) {
	t.Run("file_output_with_rotation", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "logs", "sidecar.log")
		cfg := logging.DefaultConfig()
		cfg.OutputPaths = []string{path}
		cfg.Rotation.Enabled = true

		// Act
		log, err := logging.New(cfg)
		td.Require(t).CmpNoError(err)
		log.Info("hello")
		_ = log.Sync()

		// Assert
		data, err := os.ReadFile(path)
		td.CmpNoError(t, err)
		td.CmpContains(t, string(data), `"msg":"hello"`)
	})

	t.Run("bad_level", func(t *testing.T) {
		cfg := logging.DefaultConfig()
		cfg.Level = "verbose"
		_, err := logging.New(cfg)
		td.CmpError(t, err)
	})

	t.Run("levels_parse", func(t *testing.T) {
		for _, name := range logging.Levels {
			_, err := logging.ParseLevel(name)
			td.CmpNoError(t, err, name)
		}
	})
}
