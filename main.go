package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"event-notify-go/internal/handlers"
	"event-notify-go/internal/notify"
	"event-notify-go/internal/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	// Redis Configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// Redis store: dedup gate + per-user realtime channels
	redisStore := store.NewRedisStore(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// PostgreSQL Configuration
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pgStore, err := store.NewPostgresStore(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	ctx := context.Background()
	if err := pgStore.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// VAPID identity: load from env, or generate once and print
	vapidPrivateKey := os.Getenv("VAPID_PRIVATE_KEY")
	vapidPublicKey := os.Getenv("VAPID_PUBLIC_KEY")
	if vapidPrivateKey == "" || vapidPublicKey == "" {
		log.Println("VAPID keys not found in environment. Generating new keys...")
		privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			log.Fatal("Failed to generate VAPID keys:", err)
		}
		vapidPrivateKey = privateKey
		vapidPublicKey = publicKey
		log.Printf("Generated VAPID Keys:\nVAPID_PRIVATE_KEY=%s\nVAPID_PUBLIC_KEY=%s\n(Add these to your .env file to persist them)", privateKey, publicKey)
	}
	vapidSubject := os.Getenv("VAPID_SUBJECT")
	if vapidSubject == "" {
		vapidSubject = "mailto:admin@example.com"
	}

	sender := notify.NewWebPushSender(notify.VAPIDConfig{
		PublicKey:  vapidPublicKey,
		PrivateKey: vapidPrivateKey,
		Subscriber: vapidSubject,
	}, 5*time.Second, 8)

	notifier := notify.NewNotifier(pgStore, redisStore, redisStore, sender)
	notify.MustRegisterMetrics()

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		sessionSecret = "secret-key-change-in-production"
	}

	h := handlers.NewHandler(pgStore, redisStore, notifier, sessionSecret, vapidPublicKey)

	// Initialize default admin user
	h.InitAdmin(ctx)

	// Auth
	http.HandleFunc("/api/login", h.LoginHandler)
	http.HandleFunc("/api/logout", h.LogoutHandler)

	// Push subscription management
	http.HandleFunc("/api/push/vapid-public-key", h.VAPIDPublicKeyHandler)
	http.HandleFunc("/api/push/subscribe", h.AuthMiddleware(h.SubscribeHandler))
	http.HandleFunc("/api/push/unsubscribe", h.AuthMiddleware(h.UnsubscribeHandler))
	http.HandleFunc("/api/push/unsubscribe-all", h.AuthMiddleware(h.UnsubscribeAllHandler))
	http.HandleFunc("/api/push/subscriptions", h.AuthMiddleware(h.ListSubscriptionsHandler))

	// Notification read side
	http.HandleFunc("/api/notifications", h.AuthMiddleware(h.ListNotificationsHandler))
	http.HandleFunc("/api/notifications/unread-count", h.AuthMiddleware(h.UnreadCountHandler))
	http.HandleFunc("/api/notifications/read-all", h.AuthMiddleware(h.MarkAllReadHandler))
	http.HandleFunc("/api/notifications/stream", h.StreamHandler)
	http.HandleFunc("/api/notifications/", h.AuthMiddleware(h.NotificationItemHandler))

	// Fan-out triggers (admin)
	http.HandleFunc("/api/notifications/send-to-users", h.AuthMiddleware(h.AdminMiddleware(h.SendToUsersHandler)))
	http.HandleFunc("/api/notifications/send-to-all", h.AuthMiddleware(h.AdminMiddleware(h.SendToAllHandler)))
	http.HandleFunc("/api/notifications/send-to-event-participants", h.AuthMiddleware(h.AdminMiddleware(h.SendToEventParticipantsHandler)))
	http.HandleFunc("/api/push/broadcast", h.AuthMiddleware(h.AdminMiddleware(h.PushBroadcastHandler)))

	http.Handle("/metrics", promhttp.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("Listening on :" + port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}
