package timeline

import (
	"context"
	"time"

	"github.com/warp/people-engine/generic"
)

// Employee is a directory entry. CurrentStatus is the denormalized field
// kept in step by EmploymentTimeline; it is empty until the first
// employment version takes effect.
type Employee struct {
	ID            string             `json:"id" validate:"required,max=100"`
	Name          string             `json:"name" validate:"required,max=200"`
	Email         string             `json:"email,omitempty" validate:"omitempty,email"`
	HireDate      generic.TimePoint  `json:"hire_date"`
	CurrentStatus EmploymentStatus   `json:"current_status,omitempty"`
	StatusAsOf    *generic.TimePoint `json:"status_as_of,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func (e Employee) Validate() error {
	return validateStruct(e)
}

// Directory stores employees. Both persistent stores implement it along
// with StatusWriter.
type Directory interface {
	StatusWriter
	SaveEmployee(ctx context.Context, emp Employee) error
	// GetEmployee returns nil, nil when the employee does not exist.
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	ListEmployeeIDs(ctx context.Context) ([]string, error)
}
