package repository

import (
	"database/sql"
)

// Repositories bundles every store the services depend on. Both the
// Postgres and the in-memory backends fill it.
type Repositories struct {
	Campaigns     CampaignRepositoryInterface
	Leads         LeadRepositoryInterface
	Conversations ConversationRepositoryInterface
	Appointments  AppointmentRepositoryInterface
	Locks         LockRepositoryInterface
}

func NewPostgres(db *sql.DB) Repositories {
	return Repositories{
		Campaigns:     &CampaignRepository{DB: db},
		Leads:         &LeadRepository{DB: db},
		Conversations: &ConversationRepository{DB: db},
		Appointments:  &AppointmentRepository{DB: db},
		Locks:         &LockRepository{DB: db},
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// requireRow turns a zero-row update into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
