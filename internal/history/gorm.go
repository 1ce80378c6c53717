package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SoloDuelHistory is one row per player per duel.
type SoloDuelHistory struct {
	ID              string    `gorm:"primaryKey;type:uuid"`
	MatchID         string    `gorm:"uniqueIndex:idx_duel_history_match_user;not null"`
	UserID          string    `gorm:"uniqueIndex:idx_duel_history_match_user;index;not null"`
	OpponentID      string    `gorm:"not null"`
	Score           int       `gorm:"not null;default:0"`
	OpponentScore   int       `gorm:"not null;default:0"`
	MatchedPairs    int       `gorm:"not null;default:0"`
	FlipCount       int       `gorm:"not null;default:0"`
	IsWin           bool      `gorm:"not null;default:false"`
	EndReason       string    `gorm:"type:varchar(32)"`
	GameTimeSeconds int       `gorm:"not null;default:0"`
	DatePlayed      time.Time `gorm:"index;not null"`
}

func (SoloDuelHistory) TableName() string { return "solo_duel_histories" }

// BattleRoyaleHistory is one row per racer per match.
type BattleRoyaleHistory struct {
	ID             string    `gorm:"primaryKey;type:uuid"`
	MatchID        string    `gorm:"uniqueIndex:idx_br_history_match_user;not null"`
	RoomID         string    `gorm:"index"`
	UserID         string    `gorm:"uniqueIndex:idx_br_history_match_user;index;not null"`
	Rank           int       `gorm:"not null;default:0"`
	Score          int       `gorm:"not null;default:0"`
	PairsFound     int       `gorm:"not null;default:0"`
	PairCount      int       `gorm:"not null;default:0"`
	FlipCount      int       `gorm:"not null;default:0"`
	CompletionTime float64   `gorm:"not null;default:0"`
	Finished       bool      `gorm:"not null;default:false"`
	DatePlayed     time.Time `gorm:"index;not null"`
}

func (BattleRoyaleHistory) TableName() string { return "battle_royale_histories" }

type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (r *GormRecorder) AutoMigrate() error {
	return r.db.AutoMigrate(&SoloDuelHistory{}, &BattleRoyaleHistory{})
}

// RecordDuel writes both players' rows. Re-recording the same match is a no-op
// so retries are safe.
func (r *GormRecorder) RecordDuel(ctx context.Context, o DuelOutcome) error {
	rows := make([]SoloDuelHistory, 0, 2)
	for i, p := range o.Players {
		opp := o.Players[1-i]
		rows = append(rows, SoloDuelHistory{
			ID:              uuid.NewString(),
			MatchID:         o.MatchID,
			UserID:          p.UserID,
			OpponentID:      opp.UserID,
			Score:           p.Score,
			OpponentScore:   opp.Score,
			MatchedPairs:    p.PairsMatched,
			FlipCount:       p.FlipCount,
			IsWin:           p.UserID == o.WinnerID,
			EndReason:       o.EndReason,
			GameTimeSeconds: o.GameSeconds(),
			DatePlayed:      o.FinishedAt,
		})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("insert duel history %s: %w", o.MatchID, err)
	}
	return nil
}

func (r *GormRecorder) RecordRoyale(ctx context.Context, o RoyaleOutcome) error {
	if len(o.Racers) == 0 {
		return nil
	}
	rows := make([]BattleRoyaleHistory, 0, len(o.Racers))
	for _, p := range o.Racers {
		rows = append(rows, BattleRoyaleHistory{
			ID:             uuid.NewString(),
			MatchID:        o.MatchID,
			RoomID:         o.RoomID,
			UserID:         p.UserID,
			Rank:           p.Rank,
			Score:          p.Score,
			PairsFound:     p.PairsFound,
			PairCount:      o.PairCount,
			FlipCount:      p.FlipCount,
			CompletionTime: p.CompletionTime,
			Finished:       p.Finished,
			DatePlayed:     o.FinishedAt,
		})
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("insert battle royale history %s: %w", o.MatchID, err)
	}
	return nil
}
