// Package scheduler concentra el trabajo periódico del proceso: sweeps de
// nonces, sesiones y revocaciones, refresh de discovery, GC del rate
// limiter. Una tarea es un tick con nombre; todas arrancan y se cancelan
// juntas en el shutdown. Nada de janitors sueltos por paquete.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task es una unidad de trabajo periódico. Run recibe el contexto del
// scheduler; si devuelve error se loguea y el tick siguiente corre igual.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type Scheduler struct {
	mu    sync.Mutex
	tasks []Task
	log   *zap.Logger
}

func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{log: log}
}

// Register agrega una tarea. Tareas sin intervalo o sin función se
// descartan con aviso; registrar después de Run no tiene efecto.
func (s *Scheduler) Register(name string, every time.Duration, run func(ctx context.Context) error) {
	if every <= 0 || run == nil {
		s.log.Warn("tarea periódica descartada", zap.String("task", name))
		return
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, Task{Name: name, Every: every, Run: run})
	s.mu.Unlock()
}

// Names lista las tareas registradas.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Name)
	}
	return out
}

// Run bloquea corriendo todas las tareas hasta que el contexto se cancele.
// Devuelve el error del contexto; los errores de las tareas nunca tumban
// el grupo.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	s.log.Info("scheduler arriba", zap.Int("tasks", len(tasks)))
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error { return s.loop(ctx, t) })
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) error {
	tk := time.NewTicker(t.Every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("tarea periódica detenida", zap.String("task", t.Name))
			return ctx.Err()
		case <-tk.C:
			s.tick(ctx, t)
		}
	}
}

// tick aísla cada corrida: un pánico en una tarea no voltea el proceso.
func (s *Scheduler) tick(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tarea periódica en pánico",
				zap.String("task", t.Name), zap.Any("panic", r))
		}
	}()
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.log.Warn("tarea periódica falló",
			zap.String("task", t.Name), zap.Error(err))
		return
	}
	s.log.Debug("tarea periódica ok",
		zap.String("task", t.Name), zap.Duration("took", time.Since(start)))
}
