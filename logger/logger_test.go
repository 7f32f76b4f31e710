package logger

import (
	"context"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

func TestNewAppLogger(t *testing.T) {
	convey.Convey("Get a logger", t, func() {
		log := NewAppLogger(InfoLevel)
		convey.So(log, convey.ShouldNotBeNil)
	})
}

func TestConfigureLogLevel(t *testing.T) {
	convey.Convey("Configure logger with different log levels", t, func() {
		convey.Convey("Configure with info level", func() {
			config := configureLogLevel(InfoLevel)
			convey.So(config.Level.String(), convey.ShouldEqual, zap.InfoLevel.String())
		})

		convey.Convey("Configure with error level", func() {
			config := configureLogLevel(ErrorLevel)
			convey.So(config.Level.String(), convey.ShouldEqual, zap.ErrorLevel.String())
		})

		convey.Convey("Configure with debug level", func() {
			config := configureLogLevel(DebugLevel)
			convey.So(config.Level.String(), convey.ShouldEqual, zap.DebugLevel.String())
		})

		convey.Convey("Configure with unknown level", func() {
			config := configureLogLevel("verbose")
			convey.So(config.Level.String(), convey.ShouldEqual, zap.InfoLevel.String())
		})
	})
}

func TestZapLoggerWithFields(t *testing.T) {
	convey.Convey("WithFields returns an independent logger", t, func() {
		base := NewZapLogger(zap.NewNop().Sugar())
		derived := base.WithFields(map[string]interface{}{"pipeline_id": "abc"})
		convey.So(derived, convey.ShouldNotEqual, base)

		// Logging must not panic with or without fields.
		derived.Info(context.Background(), "message", nil)
		derived.Error(context.Background(), "message", nil, map[string]interface{}{"k": "v"})
	})
}

func TestNopLogger(t *testing.T) {
	convey.Convey("NopLogger discards everything", t, func() {
		var log Logger = &NopLogger{}
		log.Info(context.Background(), "ignored", nil)
		log.Debug(context.Background(), "ignored", nil)
		log.Warn(context.Background(), "ignored", nil)
		log.Error(context.Background(), "ignored", nil, nil)
		convey.So(log.WithFields(map[string]interface{}{"k": "v"}), convey.ShouldEqual, log)
	})
}
