// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"time"

	"github.com/cloudwego/contentflow/internal/log"
)

// Observer receives progress notifications in-line during execution.
// Task callbacks of a parallel group fire from the tasks' goroutines, so
// implementations must be safe for concurrent use.
type Observer interface {
	OnTaskStart(key string, def *TaskDefinition)
	OnTaskComplete(key string, res *TaskResult)
	OnPhaseStart(id string, def *PhaseDefinition)
	OnPhaseComplete(id string, def *PhaseDefinition, res *PhaseResult)
}

// ObserverFuncs is an Observer built from optional functions.
type ObserverFuncs struct {
	TaskStart     func(key string, def *TaskDefinition)
	TaskComplete  func(key string, res *TaskResult)
	PhaseStart    func(id string, def *PhaseDefinition)
	PhaseComplete func(id string, def *PhaseDefinition, res *PhaseResult)
}

var _ Observer = ObserverFuncs{}

func (o ObserverFuncs) OnTaskStart(key string, def *TaskDefinition) {
	if o.TaskStart != nil {
		o.TaskStart(key, def)
	}
}

func (o ObserverFuncs) OnTaskComplete(key string, res *TaskResult) {
	if o.TaskComplete != nil {
		o.TaskComplete(key, res)
	}
}

func (o ObserverFuncs) OnPhaseStart(id string, def *PhaseDefinition) {
	if o.PhaseStart != nil {
		o.PhaseStart(id, def)
	}
}

func (o ObserverFuncs) OnPhaseComplete(id string, def *PhaseDefinition, res *PhaseResult) {
	if o.PhaseComplete != nil {
		o.PhaseComplete(id, def, res)
	}
}

// MultiObserver fans notifications out in order.
type MultiObserver []Observer

func (m MultiObserver) OnTaskStart(key string, def *TaskDefinition) {
	for _, o := range m {
		o.OnTaskStart(key, def)
	}
}

func (m MultiObserver) OnTaskComplete(key string, res *TaskResult) {
	for _, o := range m {
		o.OnTaskComplete(key, res)
	}
}

func (m MultiObserver) OnPhaseStart(id string, def *PhaseDefinition) {
	for _, o := range m {
		o.OnPhaseStart(id, def)
	}
}

func (m MultiObserver) OnPhaseComplete(id string, def *PhaseDefinition, res *PhaseResult) {
	for _, o := range m {
		o.OnPhaseComplete(id, def, res)
	}
}

// EventType names the call point an Event was emitted from.
type EventType string

const (
	EventTaskStart     EventType = "task_start"
	EventTaskComplete  EventType = "task_complete"
	EventPhaseStart    EventType = "phase_start"
	EventPhaseComplete EventType = "phase_complete"
)

// Event is the channel form of an Observer callback. Only the fields
// relevant to Type are set.
type Event struct {
	Type        EventType
	Key         string // task key or phase id
	Time        time.Time
	Task        *TaskDefinition
	TaskResult  *TaskResult
	Phase       *PhaseDefinition
	PhaseResult *PhaseResult
}

// EventObserver publishes every callback on a channel. Sends block until
// the consumer receives or ctx is done, after which events are dropped.
type EventObserver struct {
	ctx context.Context
	ch  chan<- Event
}

// NewEventObserver returns an observer writing to ch.
func NewEventObserver(ctx context.Context, ch chan<- Event) *EventObserver {
	return &EventObserver{ctx: ctx, ch: ch}
}

func (e *EventObserver) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	}
}

func (e *EventObserver) OnTaskStart(key string, def *TaskDefinition) {
	e.emit(Event{Type: EventTaskStart, Key: key, Task: def})
}

func (e *EventObserver) OnTaskComplete(key string, res *TaskResult) {
	e.emit(Event{Type: EventTaskComplete, Key: key, TaskResult: res})
}

func (e *EventObserver) OnPhaseStart(id string, def *PhaseDefinition) {
	e.emit(Event{Type: EventPhaseStart, Key: id, Phase: def})
}

func (e *EventObserver) OnPhaseComplete(id string, def *PhaseDefinition, res *PhaseResult) {
	e.emit(Event{Type: EventPhaseComplete, Key: id, Phase: def, PhaseResult: res})
}

// LogObserver writes progress to the shared logger.
type LogObserver struct{}

func (LogObserver) OnTaskStart(key string, def *TaskDefinition) {
	log.Debug("task %s started (stage %d %s)", key, def.Stage, def.Variant)
}

func (LogObserver) OnTaskComplete(key string, res *TaskResult) {
	log.Info("task %s done in %dms, cost $%.4f, tokens %d/%d",
		key, res.DurationMs, res.Cost, res.InputUnits, res.OutputUnits)
}

func (LogObserver) OnPhaseStart(id string, def *PhaseDefinition) {
	log.Info("phase %s started: %d tasks, mode %s", id, len(def.Tasks), def.Mode)
}

func (LogObserver) OnPhaseComplete(id string, def *PhaseDefinition, res *PhaseResult) {
	log.Info("phase %s %s in %dms, cost $%.4f", id, res.State, res.DurationMs, res.TotalCost)
}

type nopObserver struct{}

func (nopObserver) OnTaskStart(string, *TaskDefinition)                    {}
func (nopObserver) OnTaskComplete(string, *TaskResult)                     {}
func (nopObserver) OnPhaseStart(string, *PhaseDefinition)                  {}
func (nopObserver) OnPhaseComplete(string, *PhaseDefinition, *PhaseResult) {}
