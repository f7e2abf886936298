package health

import (
	"math"
	"time"
)

// Weight is stored in grams and height in centimeters; these helpers
// convert between the canonical units and the friendly units surfaced to
// users and the model.

const (
	cmPerInch     = 2.54
	inchesPerFoot = 12
	gramsPerKg    = 1000
	kgPerLb       = 0.453592
)

// FeetInches is a height in imperial display units.
type FeetInches struct {
	Feet   int
	Inches int
}

func CmToFeetInches(cm int) FeetInches {
	totalInches := float64(cm) / cmPerInch
	feet := int(totalInches / inchesPerFoot)
	inches := int(math.Round(math.Mod(totalInches, inchesPerFoot)))
	return FeetInches{Feet: feet, Inches: inches}
}

func FeetInchesToCm(feet, inches int) int {
	totalInches := float64(feet*inchesPerFoot + inches)
	return int(math.Round(totalInches * cmPerInch))
}

func GramsToKg(grams int) float64 {
	return math.Round(float64(grams)/gramsPerKg*10) / 10
}

func KgToGrams(kg float64) int {
	return int(math.Round(kg * gramsPerKg))
}

func KgToLbs(kg float64) float64 {
	return math.Round(kg/kgPerLb*10) / 10
}

func LbsToKg(lbs float64) float64 {
	return math.Round(lbs*kgPerLb*10) / 10
}

// Age computes completed years from dateOfBirth to now.
func Age(dateOfBirth, now time.Time) int {
	age := now.Year() - dateOfBirth.Year()
	if now.Month() < dateOfBirth.Month() ||
		(now.Month() == dateOfBirth.Month() && now.Day() < dateOfBirth.Day()) {
		age--
	}
	return age
}
