package abtest

import (
	"encoding/json"
	"math"
)

// JSON has no NaN or Inf, so non-finite statistics are written as null
// and read back as NaN.

func jsonFloat(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func fromJSON(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

type intervalJSON struct {
	Mean *float64 `json:"mean"`
	Low  *float64 `json:"low"`
	High *float64 `json:"high"`
}

// MarshalJSON implements json.Marshaler.
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(intervalJSON{jsonFloat(iv.Mean), jsonFloat(iv.Low), jsonFloat(iv.High)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (iv *Interval) UnmarshalJSON(b []byte) error {
	var aux intervalJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	iv.Mean, iv.Low, iv.High = fromJSON(aux.Mean), fromJSON(aux.Low), fromJSON(aux.High)
	return nil
}

type seedResultJSON struct {
	Seed     int64  `json:"seed"`
	OffRunID string `json:"off_run_id"`
	OnRunID  string `json:"on_run_id"`

	OffRCSlope     *float64 `json:"off_rc_slope"`
	OnRCSlope      *float64 `json:"on_rc_slope"`
	OffEnergySlope *float64 `json:"off_energy_slope"`
	OnEnergySlope  *float64 `json:"on_energy_slope"`
	FireRate       *float64 `json:"fire_rate"`
}

// MarshalJSON implements json.Marshaler.
func (r SeedResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(seedResultJSON{
		Seed:           r.Seed,
		OffRunID:       r.OffRunID,
		OnRunID:        r.OnRunID,
		OffRCSlope:     jsonFloat(r.OffRCSlope),
		OnRCSlope:      jsonFloat(r.OnRCSlope),
		OffEnergySlope: jsonFloat(r.OffEnergySlope),
		OnEnergySlope:  jsonFloat(r.OnEnergySlope),
		FireRate:       jsonFloat(r.FireRate),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *SeedResult) UnmarshalJSON(b []byte) error {
	var aux seedResultJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = SeedResult{
		Seed:           aux.Seed,
		OffRunID:       aux.OffRunID,
		OnRunID:        aux.OnRunID,
		OffRCSlope:     fromJSON(aux.OffRCSlope),
		OnRCSlope:      fromJSON(aux.OnRCSlope),
		OffEnergySlope: fromJSON(aux.OffEnergySlope),
		OnEnergySlope:  fromJSON(aux.OnEnergySlope),
		FireRate:       fromJSON(aux.FireRate),
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Intervals and seed rows encode
// themselves; the remaining float fields are shadowed here.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		CohenDRC     *float64 `json:"cohen_d_rc"`
		CohenDEnergy *float64 `json:"cohen_d_energy"`
		Confidence   *float64 `json:"confidence"`
	}{plain(s), jsonFloat(s.CohenDRC), jsonFloat(s.CohenDEnergy), jsonFloat(s.Confidence)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Summary) UnmarshalJSON(b []byte) error {
	type plain Summary
	aux := struct {
		*plain
		CohenDRC     *float64 `json:"cohen_d_rc"`
		CohenDEnergy *float64 `json:"cohen_d_energy"`
		Confidence   *float64 `json:"confidence"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.CohenDRC = fromJSON(aux.CohenDRC)
	s.CohenDEnergy = fromJSON(aux.CohenDEnergy)
	s.Confidence = fromJSON(aux.Confidence)
	return nil
}
