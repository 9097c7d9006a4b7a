package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level  string
	Format string // text | json
	File   string // путь к файлу; если оканчивается на "/", создаётся файл на каждый запуск
}

// Logger — общий логгер процесса. До Init пишет в stderr с уровнем info.
var Logger = logrus.New()

// Init настраивает Logger. Ошибки открытия файла не фатальны: логируем в stdout.
func Init(o Options) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(o.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(o.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "02-01-2006 15:04:05"})
	}

	var out io.Writer = os.Stdout
	if o.File != "" {
		f, path, err := openLogFile(o.File, time.Now())
		if err != nil {
			Logger.SetOutput(out)
			Logger.Warnf("log file %s: %v (stdout only)", o.File, err)
			return
		}
		out = io.MultiWriter(os.Stdout, f)
		defer Logger.Infof("logging to %s", path)
	}
	Logger.SetOutput(out)
}

func openLogFile(spec string, now time.Time) (*os.File, string, error) {
	path := spec
	if strings.HasSuffix(spec, "/") || strings.HasSuffix(spec, string(os.PathSeparator)) {
		if err := os.MkdirAll(spec, 0o755); err != nil {
			return nil, "", err
		}
		path = filepath.Join(spec, PerBootName(now))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// PerBootName — имя лог-файла для одного запуска сервера.
func PerBootName(t time.Time) string {
	return fmt.Sprintf("espvote-%s.log", t.Format("02-01-2006-15-04-05"))
}
