// Package app builds every service from config and owns their lifetimes.
package app

import (
	"context"
	"fmt"

	"nannynest/auth"
	"nannynest/booking"
	"nannynest/chats"
	"nannynest/config"
	"nannynest/db"
	"nannynest/filemgr"
	"nannynest/middleware"
	"nannynest/mq"
	"nannynest/nannyshare"
	"nannynest/newchat"
	"nannynest/notify"
	"nannynest/pay"
	"nannynest/pricing"
	"nannynest/rdx"
	"nannynest/stripe"
	"nannynest/tickets"
	"nannynest/users"
	"nannynest/verify"
	"nannynest/vouchers"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	Config config.Config
	Log    *zap.Logger

	Mongo *db.DB
	Redis *redis.Client
	Bus   mq.Bus
	Cron  *cron.Cron

	Users        users.Store
	BookingStore booking.Store
	Idempotency  middleware.IdempotencyStore

	Auth       *auth.Service
	Phone      *auth.PhoneVerifier
	Bookings   *booking.Manager
	Payments   *pay.Coordinator
	Onboarding *pay.Onboarding
	Stripe     *stripe.Client
	Verify     *verify.Registry
	Vouchers   *vouchers.Service
	Shares     *nannyshare.Service
	Relay      *chats.Relay
	Hub        *newchat.Hub
	Photos     *filemgr.Processor
	Documents  *tickets.Documents
	Notifier   *notify.Dispatcher

	// LocalPhotoDir is set when photos are served from disk.
	LocalPhotoDir string
}

type stores struct {
	users       users.Store
	bookings    booking.Store
	ledger      pay.LedgerStore
	verify      verify.Store
	shares      nannyshare.Store
	messages    chats.Store
	vouchers    vouchers.Store
	idempotency middleware.IdempotencyStore
}

func (a *App) mongoStores(ctx context.Context) (stores, error) {
	d, err := db.Connect(ctx, a.Config.MongoURI, a.Config.MongoDB)
	if err != nil {
		return stores{}, err
	}
	a.Mongo = d
	if err := d.EnsureIndexes(ctx); err != nil {
		return stores{}, err
	}
	idem := middleware.NewMongoIdempotencyStore(d.IdempotencyCollection)
	if err := idem.EnsureIndexes(ctx); err != nil {
		return stores{}, err
	}
	return stores{
		users:       users.NewMongoStore(d.UserCollection),
		bookings:    booking.NewMongoStore(d.BookingsCollection),
		ledger:      pay.NewMongoLedger(d.LedgerCollection),
		verify:      verify.NewMongoStore(d.VerificationsCollection),
		shares:      nannyshare.NewMongoStore(d.NannySharesCollection),
		messages:    chats.NewMongoStore(d.MessagesCollection),
		vouchers:    vouchers.NewMongoStore(d.VouchersCollection),
		idempotency: idem,
	}, nil
}

func memoryStores() stores {
	return stores{
		users:       users.NewMemoryStore(),
		bookings:    booking.NewMemoryStore(),
		ledger:      pay.NewMemoryLedger(),
		verify:      verify.NewMemoryStore(),
		shares:      nannyshare.NewMemoryStore(),
		messages:    chats.NewMemoryStore(),
		vouchers:    vouchers.NewMemoryStore(),
		idempotency: middleware.NewMemoryIdempotencyStore(),
	}
}

// New connects the backing stores and wires the services. Nothing runs in
// the background until Start.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	var (
		st    stores
		locks rdx.Locker
		kv    rdx.KV
		err   error
	)
	if cfg.StoreBackend == "memory" {
		st = memoryStores()
		locks = rdx.NewMemoryLocker()
		kv = rdx.NewMemoryKV()
		a.Bus = mq.NewMemoryBus(log)
		log.Warn("using in-memory stores; data is lost on restart")
	} else {
		if st, err = a.mongoStores(ctx); err != nil {
			return nil, err
		}
		if a.Redis, err = rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword); err != nil {
			return nil, err
		}
		locks = rdx.NewRedisLocker(a.Redis)
		kv = rdx.NewRedisKV(a.Redis)
		a.Bus = mq.NewRedisBus(a.Redis, log)
	}
	a.Users = st.users
	a.BookingStore = st.bookings
	a.Idempotency = st.idempotency

	rate, err := cfg.FeeRate()
	if err != nil {
		return nil, err
	}
	calc, err := pricing.NewCalculator(rate)
	if err != nil {
		return nil, err
	}

	a.Auth = auth.NewService(st.users, log)
	a.Auth.SetAccessTTL(cfg.JWTTTL)

	var sms auth.SMS = notify.NewLogSMS(log)
	if cfg.TwilioAccountSID != "" {
		sms = notify.NewTwilioSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	a.Phone = auth.NewPhoneVerifier(kv, sms, st.users, log)

	a.Bookings = booking.NewManager(st.bookings, calc, a.Bus, cfg.Currency, log)

	a.Stripe = stripe.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	a.Bookings.SetIntentCanceller(a.Stripe)
	a.Payments = pay.NewCoordinator(pay.Deps{
		Bookings:  st.bookings,
		Ledger:    st.ledger,
		Processor: a.Stripe,
		Accounts:  st.users,
		Locks:     locks,
		Events:    a.Bus,
		Hold:      cfg.ReleaseHold,
		Log:       log,
	})
	a.Onboarding = pay.NewOnboarding(a.Stripe, st.users, a.Bus, cfg.FrontendURL, log)

	a.Vouchers = vouchers.NewService(vouchers.Deps{
		Store:    st.vouchers,
		Bookings: st.bookings,
		Payer:    a.Stripe,
		Accounts: st.users,
		Ledger:   st.ledger,
		Events:   a.Bus,
		Currency: cfg.Currency,
		Log:      log,
	})

	a.Verify = verify.NewRegistry(st.verify, verify.ManualAuthority{}, a.Bus, log)
	a.Shares = nannyshare.NewService(st.shares, a.Bus, log)

	a.Hub = newchat.NewHub(log)
	a.Relay = chats.NewRelay(st.messages, a.Shares, a.Hub, log)

	storage, err := a.photoStorage(ctx)
	if err != nil {
		return nil, err
	}
	a.Photos = filemgr.NewProcessor(storage, log)

	qrKey := cfg.QRSigningKey
	if qrKey == "" {
		qrKey = cfg.JWTSecret
	}
	a.Documents = tickets.NewDocuments(a.Bookings, st.users, tickets.NewSigner([]byte(qrKey)), log)

	var mailer notify.Mailer = notify.NewLogMailer(log)
	if cfg.SendGridAPIKey != "" {
		mailer = notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	}
	a.Notifier = notify.NewDispatcher(st.users, mailer, cfg.FrontendURL, log)

	a.Cron = cron.New(cron.WithLogger(cronLogger{log.Named("cron")}))
	return a, nil
}

func (a *App) photoStorage(ctx context.Context) (filemgr.Storage, error) {
	if a.Config.PhotoBucket != "" {
		s, err := filemgr.NewS3Storage(ctx, a.Config.AWSRegion, a.Config.PhotoBucket)
		if err != nil {
			return nil, fmt.Errorf("photo bucket: %w", err)
		}
		return s, nil
	}
	a.LocalPhotoDir = a.Config.PhotoDir
	return filemgr.LocalStorage{Dir: a.Config.PhotoDir, BaseURL: a.Config.PhotoBaseURL}, nil
}

// Start launches the chat hub, the event workers and the cron jobs. They
// stop when ctx is cancelled or Close is called.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Run()

	a.Bus.Subscribe(ctx, mq.TopicVerification, a.Verify.HandleEvent)
	a.Bus.Subscribe(ctx, mq.TopicNotify, a.Notifier.Handle)

	if _, err := a.Payments.ScheduleAutoRelease(a.Cron, a.Config.ReleaseSchedule); err != nil {
		return fmt.Errorf("RELEASE_SCHEDULE: %w", err)
	}
	if _, err := a.Verify.ScheduleExpirySweep(a.Cron, a.Config.ExpirySweepSchedule, a.Config.ExpiryWarning); err != nil {
		return fmt.Errorf("EXPIRY_SWEEP_SCHEDULE: %w", err)
	}
	a.Cron.Start()
	a.Log.Info("background workers started")
	return nil
}

// Close stops background work and disconnects from the stores.
func (a *App) Close(ctx context.Context) {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("redis close", zap.Error(err))
		}
	}
	if a.Mongo != nil {
		if err := a.Mongo.Close(ctx); err != nil {
			a.Log.Warn("mongo close", zap.Error(err))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Sugar().Debugw(msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Sugar().Errorw(msg, append(kv, "error", err)...)
}
