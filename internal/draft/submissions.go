package draft

import (
	"time"

	"rideline/internal/domain"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func validTime(s string) bool {
	_, err := time.Parse(timeLayout, s)
	return err == nil
}

// ToSubmissions turns a draft into one Submission, or one per occurrence when
// the schedule is recurring. Every passenger-transport of an occurrence starts
// at that occurrence's date and time.
func ToSubmissions(d domain.Draft) ([]domain.Submission, error) {
	if len(d.Passengers) == 0 {
		return nil, domain.Invalid(domain.ReasonEmptyPassengers, "draft %s has no passengers", d.ID)
	}
	if !d.TransportKind.Valid() {
		return nil, domain.Invalid(domain.ReasonInvalidInput, "unknown transport kind %q", d.TransportKind)
	}
	if !d.Direction.Valid() {
		return nil, domain.Invalid(domain.ReasonInvalidInput, "unknown trip direction %q", d.Direction)
	}
	slots := d.Schedule.DateTimes()
	if len(slots) == 0 {
		return nil, domain.Invalid(domain.ReasonEmptySchedule, "draft %s has no scheduled date and time", d.ID)
	}
	for _, s := range slots {
		if !validDate(s.Date) || !validTime(s.Time) {
			return nil, domain.Invalid(domain.ReasonInvalidSchedule, "invalid occurrence %q %q", s.Date, s.Time)
		}
	}

	type leg struct {
		p        domain.SelectedPassenger
		dep, arr domain.Address
	}
	legs := make([]leg, 0, len(d.Passengers))
	for _, p := range d.Passengers {
		dep, ok := p.Resolve(p.Departure)
		if !ok {
			return nil, domain.Invalid(domain.ReasonUnresolvedAddress, "passenger %s has no departure address", p.Employee.ID)
		}
		arr, ok := p.Resolve(p.Arrival)
		if !ok {
			return nil, domain.Invalid(domain.ReasonUnresolvedAddress, "passenger %s has no arrival address", p.Employee.ID)
		}
		legs = append(legs, leg{p: p, dep: dep, arr: arr})
	}

	subs := make([]domain.Submission, 0, len(slots))
	for _, s := range slots {
		sub := domain.Submission{
			DraftID:       d.ID,
			TransportKind: d.TransportKind,
			Direction:     d.Direction,
			ScheduledDate: s.Date,
			ScheduledTime: s.Time,
			Note:          d.Note,
			Passengers:    make([]domain.PassengerTransport, 0, len(legs)),
		}
		for _, l := range legs {
			sub.Passengers = append(sub.Passengers, domain.PassengerTransport{
				EmployeeID:   l.p.Employee.ID,
				EmployeeName: l.p.Employee.Name,
				Departure:    l.dep,
				Arrival:      l.arr,
				StartDate:    s.Date,
				StartTime:    s.Time,
				Note:         l.p.Note,
			})
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
