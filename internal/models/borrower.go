package models

import (
	"strings"
	"time"
)

// EmploymentStatus represents the employment status of a borrower.
type EmploymentStatus string

const (
	EmploymentStatusEmployed     EmploymentStatus = "employed"
	EmploymentStatusSelfEmployed EmploymentStatus = "self_employed"
	EmploymentStatusUnemployed   EmploymentStatus = "unemployed"
	EmploymentStatusRetired      EmploymentStatus = "retired"
	EmploymentStatusStudent      EmploymentStatus = "student"
)

// NormalizeEmploymentStatus maps free-form input onto a known status.
// Unknown input is returned lowercased and unchanged otherwise.
func NormalizeEmploymentStatus(status string) EmploymentStatus {
	normalized := strings.ToLower(strings.TrimSpace(status))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	switch normalized {
	case "salaried", "full_time", "part_time":
		return EmploymentStatusEmployed
	case "selfemployed", "business", "business_owner", "freelancer":
		return EmploymentStatusSelfEmployed
	case "jobless", "not_employed":
		return EmploymentStatusUnemployed
	}
	return EmploymentStatus(normalized)
}

// Borrower is a loan applicant and the owner of loans.
type Borrower struct {
	ID               int64            `json:"id" db:"id"`
	ExternalID       string           `json:"external_id" db:"external_id"`
	Email            string           `json:"email" db:"email"`
	MonthlyIncome    float64          `json:"monthly_income" db:"monthly_income"`
	CreditScore      int              `json:"credit_score" db:"credit_score"`
	EmploymentStatus EmploymentStatus `json:"employment_status" db:"employment_status"`
	Age              int              `json:"age" db:"age"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
	IsActive         bool             `json:"is_active" db:"is_active"`
}

// Attributes exposes the borrower's fields to scoring rules.
func (b *Borrower) Attributes() BorrowerAttributes {
	return BorrowerAttributes{
		"monthly_income":    b.MonthlyIncome,
		"credit_score":      b.CreditScore,
		"employment_status": string(b.EmploymentStatus),
		"age":               b.Age,
	}
}
