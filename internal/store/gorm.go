package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/memory-match-backend/internal/engine"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// Documents are stored whole as JSON; the indexed columns only serve lookups.

type DuelRecord struct {
	ID          string       `gorm:"primaryKey"`
	Status      string       `gorm:"index;not null"`
	PlayerOneID string       `gorm:"index;not null"`
	PlayerTwoID string       `gorm:"index;not null"`
	Data        engine.Match `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt   time.Time    `gorm:"index"`
	FinishedAt  *time.Time   `gorm:"index"`
	UpdatedAt   time.Time
}

func (DuelRecord) TableName() string { return "solo_duel_matches" }

type RoomRecord struct {
	ID          string    `gorm:"primaryKey"`
	Code        string    `gorm:"uniqueIndex;size:16;not null"`
	Status      string    `gorm:"index;not null"`
	HostID      string    `gorm:"index"`
	HasPassword bool      `gorm:"not null;default:false"`
	Data        room.Room `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time `gorm:"index"`
}

func (RoomRecord) TableName() string { return "battle_royale_rooms" }

type RoyaleRecord struct {
	ID        string       `gorm:"primaryKey"`
	RoomID    string       `gorm:"index;not null"`
	Status    string       `gorm:"index;not null"`
	Data      royale.Match `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt time.Time    `gorm:"index"`
	UpdatedAt time.Time
}

func (RoyaleRecord) TableName() string { return "battle_royale_matches" }

// Gorm is the PostgreSQL store.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) AutoMigrate() error {
	return s.db.AutoMigrate(&DuelRecord{}, &RoomRecord{}, &RoyaleRecord{})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func duelRecord(m engine.Match) DuelRecord {
	return DuelRecord{
		ID:          m.ID,
		Status:      string(m.Status),
		PlayerOneID: m.Players[0].UserID,
		PlayerTwoID: m.Players[1].UserID,
		Data:        m,
		CreatedAt:   m.CreatedAt,
		FinishedAt:  m.FinishedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func (s *Gorm) GetDuel(ctx context.Context, id string) (engine.Match, error) {
	var rec DuelRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return engine.Match{}, notFound(err, engine.ErrMatchNotFound)
	}
	return rec.Data, nil
}

func (s *Gorm) SaveDuel(ctx context.Context, m engine.Match) error {
	rec := duelRecord(m)
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *Gorm) DeleteDuel(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&DuelRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return engine.ErrMatchNotFound
	}
	return nil
}

func (s *Gorm) ActiveDuelFor(ctx context.Context, userID string) (engine.Match, error) {
	var rec DuelRecord
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []string{string(engine.StatusCompleted), string(engine.StatusCancelled)}).
		Where("player_one_id = ? OR player_two_id = ?", userID, userID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		return engine.Match{}, notFound(err, engine.ErrMatchNotFound)
	}
	return rec.Data, nil
}

func (s *Gorm) PurgeDuels(ctx context.Context, finishedBefore time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND finished_at < ?",
			[]string{string(engine.StatusCompleted), string(engine.StatusCancelled)}, finishedBefore).
		Delete(&DuelRecord{})
	return int(res.RowsAffected), res.Error
}

func roomRecord(r room.Room) RoomRecord {
	return RoomRecord{
		ID:          r.ID,
		Code:        r.Code,
		Status:      string(r.Status),
		HostID:      r.HostID,
		HasPassword: r.HasPassword(),
		Data:        r,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (s *Gorm) CreateRoom(ctx context.Context, r room.Room) error {
	rec := roomRecord(r)
	err := s.db.WithContext(ctx).Create(&rec).Error
	if isUniqueViolation(err) {
		return room.ErrCodeTaken
	}
	return err
}

func (s *Gorm) GetRoom(ctx context.Context, id string) (room.Room, error) {
	var rec RoomRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return room.Room{}, notFound(err, room.ErrRoomNotFound)
	}
	return rec.Data, nil
}

func (s *Gorm) GetRoomByCode(ctx context.Context, code string) (room.Room, error) {
	var rec RoomRecord
	if err := s.db.WithContext(ctx).First(&rec, "code = ?", code).Error; err != nil {
		return room.Room{}, notFound(err, room.ErrRoomNotFound)
	}
	return rec.Data, nil
}

func (s *Gorm) SaveRoom(ctx context.Context, r room.Room) error {
	rec := roomRecord(r)
	res := s.db.WithContext(ctx).Model(&RoomRecord{}).Where("id = ?", r.ID).
		Select("status", "host_id", "has_password", "data", "updated_at").
		Updates(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}

func (s *Gorm) DeleteRoom(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&RoomRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}

func (s *Gorm) ListOpenRooms(ctx context.Context, limit int) ([]room.Room, error) {
	var recs []RoomRecord
	q := s.db.WithContext(ctx).
		Where("status = ? AND has_password = ?", string(room.StatusWaiting), false).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return roomsOf(recs), nil
}

func (s *Gorm) StaleRooms(ctx context.Context, updatedBefore time.Time) ([]room.Room, error) {
	var recs []RoomRecord
	if err := s.db.WithContext(ctx).Where("updated_at < ?", updatedBefore).Find(&recs).Error; err != nil {
		return nil, err
	}
	return roomsOf(recs), nil
}

func roomsOf(recs []RoomRecord) []room.Room {
	out := make([]room.Room, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Data)
	}
	return out
}

func (s *Gorm) GetRoyale(ctx context.Context, id string) (royale.Match, error) {
	var rec RoyaleRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return royale.Match{}, notFound(err, royale.ErrMatchNotFound)
	}
	return rec.Data, nil
}

func (s *Gorm) SaveRoyale(ctx context.Context, m royale.Match) error {
	rec := RoyaleRecord{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Status:    string(m.Status),
		Data:      m,
		CreatedAt: m.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "data", "updated_at"}),
	}).Create(&rec).Error
}

func (s *Gorm) DeleteRoyale(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&RoyaleRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return royale.ErrMatchNotFound
	}
	return nil
}
