package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streakline/internal/db"
)

var (
	ErrInvitationCodeRequired    = errors.New("invitation code is required")
	ErrInvitationInvalid         = errors.New("invitation code is invalid")
	ErrInvitationExhausted       = errors.New("invitation code has been fully used")
	ErrInvitationAlreadyRedeemed = errors.New("user already redeemed an invitation code")
)

// ProfileService 负责与配额、时区相关的用户属性，以及邀请码兑换。
type ProfileService struct {
	db  *gorm.DB
	loc *time.Location
}

// NewProfileService 创建服务，loc 为用户未设置时区时的回退值。
func NewProfileService(gdb *gorm.DB, loc *time.Location) *ProfileService {
	if loc == nil {
		loc = time.Local
	}
	return &ProfileService{db: gdb, loc: loc}
}

// Ensure 返回用户资料，不存在时创建默认记录。
func (s *ProfileService) Ensure(ctx context.Context, userID string) (*db.Profile, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	profile := db.Profile{UserID: userID}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&profile).Error; err != nil {
		return nil, storeError("ensure profile", err)
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, storeError("load profile", err)
	}
	return &profile, nil
}

// Tier 根据资料推导等级：创始人 exempt，付费 premium，其余 free。
// 资料不存在视为 free。
func (s *ProfileService) Tier(ctx context.Context, userID string) (Tier, error) {
	var profile db.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TierFree, nil
	}
	if err != nil {
		return "", storeError("load profile", err)
	}
	switch {
	case profile.IsFounder:
		return TierExempt, nil
	case profile.IsPremium:
		return TierPremium, nil
	default:
		return TierFree, nil
	}
}

// Location 返回用户时区；读取失败或时区非法时回退到默认时区。
func (s *ProfileService) Location(ctx context.Context, userID string) *time.Location {
	var profile db.Profile
	if err := s.db.WithContext(ctx).Select("timezone").Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return s.loc
	}
	if profile.Timezone == "" {
		return s.loc
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		return s.loc
	}
	return loc
}

// SetTimezone 更新用户时区，名称必须能被 time.LoadLocation 识别。
func (s *ProfileService) SetTimezone(ctx context.Context, userID, name string) error {
	name = strings.TrimSpace(name)
	if _, err := time.LoadLocation(name); err != nil {
		return err
	}
	if _, err := s.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&db.Profile{}).
		Where("user_id = ?", userID).
		Update("timezone", name).Error; err != nil {
		return storeError("update timezone", err)
	}
	return nil
}

// CreateInvitationCode 新建邀请码，maxUses 小于 1 时按 1 处理。
func (s *ProfileService) CreateInvitationCode(ctx context.Context, code string, maxUses int) (*db.InvitationCode, error) {
	code = normalizeInvitationCode(code)
	if code == "" {
		return nil, ErrInvitationCodeRequired
	}
	if maxUses < 1 {
		maxUses = 1
	}
	invitation := db.InvitationCode{Code: code, MaxUses: maxUses}
	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		return nil, storeError("create invitation code", err)
	}
	return &invitation, nil
}

// RedeemInvitationCode 兑换邀请码并升级为 premium，整个过程在一个事务内完成。
func (s *ProfileService) RedeemInvitationCode(ctx context.Context, userID, code string) error {
	code = normalizeInvitationCode(code)
	if code == "" {
		return ErrInvitationCodeRequired
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitation db.InvitationCode
		if err := tx.Where("code = ?", code).First(&invitation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvitationInvalid
			}
			return err
		}

		res := tx.Model(&db.InvitationCode{}).
			Where("code = ? AND used_count < max_uses", code).
			Update("used_count", gorm.Expr("used_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvitationExhausted
		}

		redemption := db.InvitationRedemption{UserID: userID, Code: code}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&redemption)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvitationAlreadyRedeemed
		}

		profile := db.Profile{UserID: userID, IsPremium: true}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"is_premium": true, "updated_at": time.Now()}),
		}).Create(&profile).Error
	})

	switch {
	case err == nil:
		log.Printf("[PROFILE] user=%s redeemed invitation %s", userID, code)
		return nil
	case errors.Is(err, ErrInvitationInvalid),
		errors.Is(err, ErrInvitationExhausted),
		errors.Is(err, ErrInvitationAlreadyRedeemed):
		return err
	default:
		return storeError("redeem invitation code", err)
	}
}

func normalizeInvitationCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
