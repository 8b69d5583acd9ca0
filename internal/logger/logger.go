// Package logger предоставляет логирование с префиксом процесса и асинхронной записью,
// чтобы обработчики event loop не блокировались на I/O. Поддерживаются уровни,
// именованные логгеры (например "room[<id>]") и логирование времени выполнения.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = LevelInfo
	ch       chan string
	once     sync.Once
)

// Level: уровень логирования.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel разбирает строку уровня из конфига или LOG_LEVEL. Неизвестное значение даёт info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		SetLevel(ParseLevel(v))
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "chatd").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel задаёт минимальный уровень.
func SetLevel(l Level) {
	mu.Lock()
	logLevel = l
	mu.Unlock()
}

// Enabled сообщает, будет ли записан лог уровня l.
func Enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= logLevel
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func write(l Level, name, msg string) {
	if !Enabled(l) {
		return
	}
	var sb strings.Builder
	sb.WriteString(tag())
	switch l {
	case LevelDebug:
		sb.WriteString("DEBUG: ")
	case LevelWarn:
		sb.WriteString("WARN: ")
	case LevelError:
		sb.WriteString("ERROR: ")
	}
	if name != "" {
		sb.WriteString(name)
		sb.WriteString(" ")
	}
	sb.WriteString(msg)
	enqueue(sb.String())
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) { write(LevelInfo, "", fmt.Sprint(v...)) }

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) { write(LevelInfo, "", fmt.Sprintf(format, v...)) }

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) { write(LevelDebug, "", fmt.Sprintf(format, v...)) }

// Warnf пишет предупреждение.
func Warnf(format string, v ...any) { write(LevelWarn, "", fmt.Sprintf(format, v...)) }

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) { write(LevelError, "", fmt.Sprint(v...)) }

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) { write(LevelError, "", fmt.Sprintf(format, v...)) }

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При уровне info логирует только вызовы дольше 100ms; при debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if Enabled(LevelDebug) || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("room.SendMessage", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Scoped: именованный логгер. Каждая строка помечается именем, например "room[abc]".
type Scoped struct {
	name string
}

// Named создаёт именованный логгер.
func Named(name string) *Scoped {
	return &Scoped{name: name}
}

// Name возвращает имя логгера.
func (s *Scoped) Name() string { return s.name }

func (s *Scoped) Debugf(format string, v ...any) { write(LevelDebug, s.name, fmt.Sprintf(format, v...)) }
func (s *Scoped) Infof(format string, v ...any) { write(LevelInfo, s.name, fmt.Sprintf(format, v...)) }
func (s *Scoped) Warnf(format string, v ...any) { write(LevelWarn, s.name, fmt.Sprintf(format, v...)) }
func (s *Scoped) Errorf(format string, v ...any) { write(LevelError, s.name, fmt.Sprintf(format, v...)) }
