package server

import (
	"math/rand"
	"sync"
	"time"

	"evdash/internal/things"
)

// Store holds the seeded demo fleet served over the realtime channel.
type Store struct {
	mu       sync.RWMutex
	chargers map[string]things.Thing
	cars     map[string]things.Thing
	sessions []things.Thing
}

// NewStore seeds a small fleet with the fields the dashboard knows about.
func NewStore() *Store {
	now := time.Now().UTC()
	return &Store{
		chargers: map[string]things.Thing{
			"charger-1": {
				"thingId": "charger-1", "name": "Garage", "assignedCar": "Kona",
				"energyManagerMode": float64(1), "connected": true, "status": "Charging",
				"chargingCurrent": float64(16), "currentPower": float64(7200),
				"version": "1.4.2", "sessionEnergy": 8.4, "temperature": 31.5,
				"chargingPhases": float64(3), "digitalInputMode": float64(0),
			},
			"charger-2": {
				"thingId": "charger-2", "name": "Driveway", "assignedCar": "",
				"energyManagerMode": float64(0), "connected": true, "status": "Idle",
				"chargingCurrent": float64(0), "currentPower": float64(0),
				"version": "1.4.2", "sessionEnergy": float64(0), "temperature": 24.0,
				"chargingPhases": float64(1), "digitalInputMode": float64(2),
			},
		},
		cars: map[string]things.Thing{
			"car-1": {"thingId": "car-1", "name": "Kona"},
			"car-2": {"thingId": "car-2", "name": "Zoe"},
		},
		sessions: []things.Thing{
			{
				"sessionId": "session-1", "chargerName": "Garage", "chargerSerialNumber": "GRG-0001",
				"carId": "car-1", "carName": "Kona",
				"startTimestamp": float64(now.Add(-26 * time.Hour).Unix()),
				"endTimestamp":   float64(now.Add(-22 * time.Hour).Unix()),
				"energyStart":    float64(1210.2), "energyEnd": float64(1241.7), "sessionEnergy": 31.5,
			},
			{
				"sessionId": "session-2", "chargerName": "Driveway", "chargerSerialNumber": "DRV-0001",
				"carId": "car-2", "carName": "Zoe",
				"startTimestamp": float64(now.Add(-3 * time.Hour).Unix()),
				"endTimestamp":   float64(now.Add(-1 * time.Hour).Unix()),
				"energyStart":    float64(540.0), "energyEnd": float64(551.2),
			},
		},
	}
}

// Chargers returns the charger list.
func (s *Store) Chargers() []things.Thing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyThings(s.chargers)
}

// Cars returns the car list.
func (s *Store) Cars() []things.Thing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyThings(s.cars)
}

// Sessions returns charging sessions, optionally filtered by car.
func (s *Store) Sessions(carID string) []things.Thing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]things.Thing, 0, len(s.sessions))
	for _, session := range s.sessions {
		if carID != "" && session["carId"] != carID {
			continue
		}
		result = append(result, things.CloneThing(session))
	}
	return result
}

// JitterCharger randomly perturbs one charging charger and returns the
// updated entity, or nil when nothing is charging.
func (s *Store) JitterCharger() things.Thing {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, charger := range s.chargers {
		if charger["status"] != "Charging" {
			continue
		}
		power, _ := charger["currentPower"].(float64)
		power += (rand.Float64() - 0.5) * 400
		if power < 0 {
			power = 0
		}
		energy, _ := charger["sessionEnergy"].(float64)
		updated := things.CloneThing(charger)
		updated["currentPower"] = power
		updated["sessionEnergy"] = energy + power/3600000
		s.chargers[id] = updated
		return things.CloneThing(updated)
	}
	return nil
}

func copyThings(m map[string]things.Thing) []things.Thing {
	result := make([]things.Thing, 0, len(m))
	for _, t := range m {
		result = append(result, things.CloneThing(t))
	}
	return result
}
