package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/streadway/amqp"

	"github.com/ebalkanci/habita/backend/server/notifications/email"
	storage "github.com/ebalkanci/habita/backend/storage/cache"
)

// Notification kinds.
const (
	KindConfirmation = "confirmation"
	KindUnlock       = "unlock"
)

// globalCount is a global variable used in the round robin algorithm to assign producers to each message.
var globalCount int

// NotificationProducerFactory is a struct for creating new NotificationProducer instances.
type NotificationProducerFactory struct{}

// NotificationConsumerFactory is a struct for creating new NotificationConsumer instances.
// It contains a Cache which is an interface to the cache service.
type NotificationConsumerFactory struct {
	Cache storage.CacheInterface
}

// NotificationProducer is a struct for managing the connection, channel, and queue of the AMQP message producer for notifications.
type NotificationProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
}

// NotificationConsumer is a struct for managing the connection, channel, queue and cache of the AMQP message consumer for notifications.
type NotificationConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   storage.CacheInterface
}

// Notification is the content of one queued mail. Id is unique per
// logical event (one confirmation per signup, one unlock per user and
// achievement), so redelivery after a crash is deduplicated through the
// cache instead of mailing twice.
type Notification struct {
	Id    string `json:"id"`
	Kind  string `json:"kind"`
	To    string `json:"to"`
	Token string `json:"token,omitempty"` // confirmation only
	Title string `json:"title,omitempty"` // unlock only
	XP    int    `json:"xp,omitempty"`    // unlock only
}

// CreateProducer is a method on NotificationProducerFactory for creating a new instance of NotificationProducer
// with the given connection, channel, and queue. The error is always nil in the current implementation.
func (f *NotificationProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &NotificationProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer is a method on NotificationConsumerFactory for creating a new instance of NotificationConsumer
// with the given connection, channel, queue, and the factory's cache. The error is always nil in the current implementation.
func (f *NotificationConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &NotificationConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
	}, nil
}

// Publish is a method on NotificationProducer for publishing a message to the AMQP queue.
// It accepts a single argument:
// - body: A byte array containing the message to be published.
//
// The function returns an error if there was a problem with publishing the message.
func (np *NotificationProducer) Publish(body []byte) error {
	err := np.channel.Publish(
		"",            // exchange
		np.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// deliver maps a notification to the right mail.
func deliver(n *Notification) error {
	switch n.Kind {
	case KindConfirmation:
		return email.SendConfirmationEmail(n.To, n.Token)
	case KindUnlock:
		return email.SendUnlockEmail(n.To, n.Title, n.XP)
	}
	return fmt.Errorf("unknown notification kind %q", n.Kind)
}

// Consume is a method on NotificationConsumer for consuming messages from the AMQP queue.
// It sets up a consumer on the queue and launches a goroutine that reads from it:
// each message is unmarshalled, checked against the cache for prior processing,
// and either mailed out or discarded. Transient failures are nacked back onto
// the queue; a message of unknown kind is acked and dropped so it cannot loop.
// The function returns the delivery channel and an error if the consumer could not be set up.
func (nc *NotificationConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := nc.channel.Consume(
		nc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				message := &Notification{}
				if err := json.Unmarshal(d.Body, message); err != nil {
					log.Printf("failed to unmarshal notification: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
					continue
				}

				processed, err := nc.cache.Get(ctx, "notify_"+message.Id)
				if err != nil {
					// Ignore cache misses, handle other errors.
					if err.Error() != "key does not exist" {
						log.Printf("error checking cache: %v", err)
						d.Nack(false, true)
						continue
					}
				}

				if processed != nil {
					d.Ack(false)
					continue
				}

				if err := deliver(message); err != nil {
					if message.Kind != KindConfirmation && message.Kind != KindUnlock {
						log.Printf("dropping notification: %v", err)
						d.Ack(false)
						continue
					}
					log.Printf("failed to send notification: %v", err)
					d.Nack(false, true)
				} else {
					d.Ack(false)
					if err := nc.cache.Set(ctx, "notify_"+message.Id, true); err != nil {
						log.Printf("failed to set key in cache: %v", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// BuildNotificationQueue initializes a new Queue for outgoing mail notifications.
// It accepts four arguments:
// - rabbitMQURL: the URL of the RabbitMQ server.
// - numProducers: the number of producers to create.
// - numConsumers: the number of consumers to create.
// - cache: the CacheInterface used to deduplicate deliveries.
//
// The function returns the initialized Queue.
func BuildNotificationQueue(rabbitMQURL string, numProducers int, numConsumers int, cache storage.CacheInterface) *Queue {

	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &NotificationProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &NotificationConsumerFactory{Cache: cache}
	}

	queue := InitQueue(rabbitMQURL, "notificationQueue", prodFactories, consFactories)
	return queue
}

// InitNotificationCache initializes the cache storage used to deduplicate
// notification deliveries, connecting to the cache server at the given URL.
func InitNotificationCache(url string) storage.CacheInterface {
	c, err := storage.NewCache(url)
	if err != nil {
		log.Fatalf("Error connecting to cache: %v", err)
	}
	return c
}

// ProcessNotification serializes a notification and publishes it onto
// the queue using one of the producers in a round-robin manner.
// It accepts two arguments:
// - msg: a pointer to the Notification to be processed.
// - notifyQueue: a pointer to the Queue the message is published to.
//
// The function returns an error if there was a problem with any step of the process.
func ProcessNotification(msg *Notification, notifyQueue *Queue) error {

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal notification: " + err.Error())
	}

	producerCount := len(notifyQueue.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	producer := notifyQueue.Producers[globalCount%producerCount]
	globalCount++

	if err := producer.Publish(body); err != nil {
		return errors.New("failed to publish notification: " + err.Error())
	}

	return nil
}
