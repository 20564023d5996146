package factories

import (
	"math/rand"

	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

var vehicleTypes = []string{"moto", "car", "bicycle", "van"}

type SubjectFactory struct {
	fake faker.Faker
	rng  *rand.Rand
	city City
}

// NewSubjectFactory returns a factory whose output depends only on seed.
func NewSubjectFactory(city City, seed int64) *SubjectFactory {
	return &SubjectFactory{
		fake: faker.NewWithSeed(rand.NewSource(seed)),
		rng:  rand.New(rand.NewSource(seed + 1)),
		city: city,
	}
}

func (sf *SubjectFactory) CreateSubject(role models.Role) *models.Subject {
	s := &models.Subject{
		ID:    cuid.New(),
		Name:  sf.fake.Person().Name(),
		Phone: sf.fake.Phone().Number(),
		Role:  role,
	}
	if role != models.RoleRecipient {
		s.VehicleType = sf.fake.RandomStringElement(vehicleTypes)
	}
	return s
}

// StartingPoint is where a generated subject is first seen.
func (sf *SubjectFactory) StartingPoint() models.Location {
	return randomLocation(sf.rng, sf.city)
}
