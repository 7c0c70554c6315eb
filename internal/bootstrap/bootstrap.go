package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/immigration-intake/internal/config"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
	"github.com/kirillkom/immigration-intake/internal/core/usecase"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/chunking"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/extractor"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/mailbox/imap"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/notify/smtp"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/repository/memory"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/immigration-intake/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/immigration-intake/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.PipelineMetrics

	Requests  ports.RequestRepository
	Documents ports.DocumentRepository
	Slots     ports.SlotStore

	Machine     *usecase.RequestStateMachine
	Driver      *usecase.PipelineDriver
	Intake      *usecase.IntakeUseCase
	Reports     *usecase.ReportingService
	Provisioner *usecase.SlotProvisioner
	Guidelines  *usecase.GuidelineLoader

	closeFn func()
}

type stores struct {
	requests  ports.RequestRepository
	documents ports.DocumentRepository
	slots     ports.SlotStore
	close     func()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.StorageDriver == "memory" {
		slog.Warn("memory_storage_driver", "detail", "state is lost on exit")
		store := memory.NewStore()
		return stores{requests: store, documents: store, slots: store, close: func() {}}, nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return stores{}, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, fmt.Errorf("ensure schema: %w", err)
	}
	return stores{
		requests:  postgres.NewRequestRepository(db),
		documents: postgres.NewDocumentRepository(db),
		slots:     postgres.NewSlotRepository(db),
		close:     func() { _ = db.Close() },
	}, nil
}

// New wires the intake pipeline. service labels metrics and NATS connections.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	routes, err := config.LoadGuidelineRoutes(cfg.GuidelineRoutesFile)
	if err != nil {
		st.close()
		return nil, err
	}

	executor := resilience.NewExecutor(cfg.Resilience())
	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		st.close()
		return nil, fmt.Errorf("init notification queue: %w", err)
	}

	observer := metrics.NewPipelineMetrics(service)
	ollamaClient := ollama.New(ollama.Config{
		BaseURL:      cfg.OllamaURL,
		GenModel:     cfg.OllamaGenModel,
		EmbedModel:   cfg.OllamaEmbedModel,
		JSONMode:     cfg.OllamaJSONMode,
		Temperature:  cfg.OllamaTemperature,
		RateLimitRPS: cfg.OllamaRateLimitRPS,
		RateBurst:    cfg.OllamaRateBurst,
	}, executor)
	judge := ollama.NewJudge(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)
	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)

	limits := cfg.PipelineLimits()
	machine := usecase.NewRequestStateMachine(usecase.StateMachineDeps{
		Requests:    st.requests,
		Documents:   st.documents,
		Extractor:   extractor.NewRouter(storage),
		Embedder:    embedder,
		VectorDB:    vectorDB,
		Splitter:    chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Evaluator:   usecase.NewComplianceEvaluator(embedder, vectorDB, judge, routes, cfg.RetrievalTopK, observer),
		Categorizer: usecase.NewCategorizer(judge, observer),
		Allocator:   usecase.NewSlotAllocator(st.slots, cfg.AppointmentLocation, observer),
		Notifier:    queue,
		Routes:      routes,
		Limits:      limits,
		Observer:    observer,
	})

	keywords := cfg.IntakeKeywords
	if len(keywords) == 0 {
		keywords = usecase.DefaultIntakeKeywords
	}
	driver := usecase.NewPipelineDriver(
		usecase.NewDedupGate(st.requests, cfg.DedupWindow),
		machine,
		usecase.IntakeFilter{Keywords: keywords, TodayOnly: cfg.IntakeTodayOnly, Location: time.Local},
		limits,
		observer,
	)
	mailbox := imap.New(imap.Config{
		Addr:     cfg.IMAPAddr,
		Username: cfg.IMAPUsername,
		Password: cfg.IMAPPassword,
		Folder:   cfg.IMAPFolder,
		TLS:      cfg.IMAPTLS,
		Lookback: cfg.IMAPLookback,
	}, storage)

	return &App{
		Config:  cfg,
		Metrics: observer,

		Requests:  st.requests,
		Documents: st.documents,
		Slots:     st.slots,

		Machine:     machine,
		Driver:      driver,
		Intake:      usecase.NewIntakeUseCase(mailbox, driver, cfg.IntakeBatchLimit),
		Reports:     usecase.NewReportingService(st.requests, st.documents, st.slots),
		Provisioner: usecase.NewSlotProvisioner(st.slots),
		Guidelines:  usecase.NewGuidelineLoader(embedder, vectorDB),

		closeFn: func() {
			queue.Close()
			st.close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Worker is the notification delivery side: it only needs the queue and SMTP.
type Worker struct {
	Config     config.Config
	Metrics    *metrics.PipelineMetrics
	Queue      ports.NotificationQueue
	Dispatcher *usecase.NotificationDispatcher

	closeFn func()
}

func NewWorker(cfg config.Config, service string) (*Worker, error) {
	executor := resilience.NewExecutor(cfg.Resilience())
	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init notification queue: %w", err)
	}

	observer := metrics.NewPipelineMetrics(service)
	sender := smtp.NewSender(smtp.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, executor)

	return &Worker{
		Config:     cfg,
		Metrics:    observer,
		Queue:      queue,
		Dispatcher: usecase.NewNotificationDispatcher(sender, cfg.NotifyTimeout, observer.ObserveNotification),
		closeFn:    queue.Close,
	}, nil
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}
