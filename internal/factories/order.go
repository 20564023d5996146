package factories

import (
	"math"
	"math/rand"

	"github.com/jaswdr/faker"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

const (
	baseFare   = 1500.0 // CDF
	farePerKm  = 600.0
	minTripKm  = 1.0
	maxRetries = 20
)

type OrderFactory struct {
	fake faker.Faker
	rng  *rand.Rand
	city City
}

func NewOrderFactory(city City, seed int64) *OrderFactory {
	return &OrderFactory{
		fake: faker.NewWithSeed(rand.NewSource(seed)),
		rng:  rand.New(rand.NewSource(seed + 1)),
		city: city,
	}
}

// CreateOrder returns a pending order without an ID; the order service
// assigns one when it is stored.
func (of *OrderFactory) CreateOrder(recipientID string) *models.DeliveryOrder {
	pickup := randomLocation(of.rng, of.city)
	dropoff := randomLocation(of.rng, of.city)
	for i := 0; i < maxRetries && geo.Distance(pickup, dropoff) < minTripKm; i++ {
		dropoff = randomLocation(of.rng, of.city)
	}

	return &models.DeliveryOrder{
		Status:        models.OrderStatusPending,
		Pickup:        models.Place{Address: of.fake.Address().StreetAddress(), Location: pickup},
		Dropoff:       models.Place{Address: of.fake.Address().StreetAddress(), Location: dropoff},
		RecipientID:   recipientID,
		PriceEstimate: EstimatePrice(geo.Distance(pickup, dropoff)),
	}
}

// EstimatePrice is the fare of a trip of km kilometres, rounded up to 100.
func EstimatePrice(km float64) float64 {
	return math.Ceil((baseFare+farePerKm*km)/100) * 100
}
