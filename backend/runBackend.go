package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ebalkanci/habita/backend/queue"
	"github.com/ebalkanci/habita/backend/server"
	"github.com/ebalkanci/habita/backend/server/auth"
	"github.com/ebalkanci/habita/backend/server/habits"
	"github.com/ebalkanci/habita/backend/server/notifications/email"
	cache "github.com/ebalkanci/habita/backend/storage/cache"
	storage "github.com/ebalkanci/habita/backend/storage/persistent"
)

// RunBackend is the main function that sets up and runs the backend server.
func RunBackend() {

	// Load the .env file.
	err := godotenv.Load("backend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables from the .env file using os.Getenv.
	signingKey := os.Getenv("JWT_SIGNING_KEY") // JWT signing key for token generation
	serverURL := os.Getenv("SERVER_URL")       // The URL where the server is running
	dbURI := os.Getenv("MONGODB_URI")          // MongoDB database URI
	dbName := os.Getenv("DB_NAME")             // The name of the MongoDB database
	smtpEmail := os.Getenv("GOOGLE_EMAIL")     // The email address used for sending mail
	smtpPassword := os.Getenv("GOOGLE_PASS")   // The password for the email account
	redisUrl := os.Getenv("REDIS_URL")         // The Redis URL for caching
	rabbitMQURL := os.Getenv("RABBITMQ_URL")   // The URL for the RabbitMQ message broker
	numNotifyProducers := 1                    // The number of notification producers
	numNotifyConsumers := 2                    // The number of notification consumers
	ctx := context.Background()

	// Initialize the mail service with the email and password
	if _, err := email.InitEmailService(smtpEmail, smtpPassword); err != nil {
		log.Fatal("error initializing email service: ", err)
	}

	// Initialize the notification cache using the Redis URL
	notifyCache := queue.InitNotificationCache(redisUrl)

	// Build the notification queue using the RabbitMQ URL, number of producers and consumers, and the cache
	notifyQueue := queue.BuildNotificationQueue(rabbitMQURL, numNotifyProducers, numNotifyConsumers, notifyCache)

	// Start the queue consumers
	_, _, err = notifyQueue.StartConsumers(ctx)
	if err != nil {
		log.Fatal("error starting queue consumers: ", err)
	}

	// Connect to the database
	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatal("error connecting to storage: ", err)
	}

	// Connect the stats cache
	statsCache, err := cache.NewCache(redisUrl)
	if err != nil {
		log.Fatal("error connecting to cache: ", err)
	}

	// Initialize the services
	auth.InitAuth(store, signingKey, notifyQueue)
	habits.InitHabits(store, statsCache, notifyQueue)

	// Start the core server
	go server.Start(serverURL, signingKey)

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		fmt.Println()
		fmt.Println(sig)
		store.Disconnect()
		statsCache.Disconnect()
		os.Exit(0)
	}()

	select {}
}
