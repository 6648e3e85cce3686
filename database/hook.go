/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/event"
)

var (
	selectColor = color.New(color.FgGreen)
	insertColor = color.New(color.FgBlue)
	updateColor = color.New(color.FgYellow)
	deleteColor = color.New(color.FgMagenta)
	otherColor  = color.New(color.FgRed)
	tagColor    = color.New(color.FgCyan)
	slowColor   = color.New(color.FgYellow, color.Bold)
	failColor   = color.New(color.BgRed, color.FgHiWhite)
)

// operationColor picks the color of a statement or command by what it does.
func operationColor(operation string) *color.Color {
	switch strings.ToLower(operation) {
	case "select", "find", "aggregate", "count", "getmore", "distinct":
		return selectColor
	case "insert":
		return insertColor
	case "update", "findandmodify":
		return updateColor
	case "delete":
		return deleteColor
	default:
		return otherColor
	}
}

type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

var _ bun.QueryHook = (*slowQueryHook)(nil)

func newSlowQueryHook(slowTime time.Duration, logger Logger) *slowQueryHook {
	return &slowQueryHook{slowTime: slowTime, logger: logger}
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.slowTime {
		h.logger.Warn(slowColor.Sprint("Database slow query detected"),
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", operationColor(event.Operation()).Sprint(event.Query),
		)
	}
}

// commandLogger prints MongoDB commands the way bundebug prints SQL and
// warns about commands slower than slowTime.
type commandLogger struct {
	verbose  bool
	slowTime time.Duration
	logger   Logger
	writer   io.Writer
	started  sync.Map // request id -> command summary
}

func newCommandMonitor(cc ConnectionConfig, logger Logger, writer io.Writer) *event.CommandMonitor {
	if writer == nil {
		writer = os.Stderr
	}
	cl := &commandLogger{verbose: cc.EnableQueryLog, slowTime: cc.SlowQueryTime, logger: logger, writer: writer}
	return &event.CommandMonitor{
		Started:   cl.commandStarted,
		Succeeded: cl.commandSucceeded,
		Failed:    cl.commandFailed,
	}
}

func (l *commandLogger) commandStarted(_ context.Context, evt *event.CommandStartedEvent) {
	if !l.verbose {
		return
	}
	l.started.Store(evt.RequestID, evt.Command.String())
}

func (l *commandLogger) commandSucceeded(_ context.Context, evt *event.CommandSucceededEvent) {
	cmd, _ := l.started.LoadAndDelete(evt.RequestID)
	if l.slowTime > 0 && evt.Duration > l.slowTime {
		l.logger.Warn(slowColor.Sprint("Database slow command detected"),
			"duration", evt.Duration,
			"slow_threshold", l.slowTime,
			"command", evt.CommandName,
			"database", evt.DatabaseName,
		)
	}
	if l.verbose {
		l.print(evt.CommandName, evt.Duration, cmd, "")
	}
}

func (l *commandLogger) commandFailed(_ context.Context, evt *event.CommandFailedEvent) {
	cmd, _ := l.started.LoadAndDelete(evt.RequestID)
	if l.verbose {
		l.print(evt.CommandName, evt.Duration, cmd, evt.Failure)
	}
}

func (l *commandLogger) print(name string, dur time.Duration, cmd interface{}, failure string) {
	text := name
	if s, ok := cmd.(string); ok && s != "" {
		text = s
	}
	args := []interface{}{
		time.Now().Format("2006-01-02 15:04:05.000"),
		tagColor.Sprintf("%9s", "[MONGO]"),
		fmt.Sprintf("%12s", dur.Round(time.Microsecond)),
		" ", operationColor(name).Sprint(text),
	}
	if failure != "" {
		args = append(args, "\t", failColor.Sprintf(" %s ", failure))
	}
	_, _ = fmt.Fprintln(l.writer, args...)
}
