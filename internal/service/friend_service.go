package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/streakline/internal/db"
)

var (
	ErrFriendSelf     = errors.New("cannot befriend yourself")
	ErrFriendExists   = errors.New("friend relationship already exists")
	ErrFriendNotFound = errors.New("friend request not found")
	ErrFriendHandled  = errors.New("friend request already handled")
)

// PeerDirectory 返回用户已接受的好友 ID 集合，提醒服务只读使用。
type PeerDirectory interface {
	AcceptedPeers(ctx context.Context, userID string) ([]string, error)
}

// FriendService 管理好友申请；关系按任意方向匹配。
type FriendService struct {
	db *gorm.DB
}

// NewFriendService 创建好友服务。
func NewFriendService(gdb *gorm.DB) *FriendService {
	return &FriendService{db: gdb}
}

// Request 由 userID 向 friendID 发起申请。
func (s *FriendService) Request(ctx context.Context, userID, friendID string) (*db.FriendRelationship, error) {
	if userID == "" || friendID == "" {
		return nil, errors.New("user id is required")
	}
	if userID == friendID {
		return nil, ErrFriendSelf
	}

	var existing db.FriendRelationship
	err := s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", userID, friendID, friendID, userID).
		First(&existing).Error
	if err == nil {
		return &existing, ErrFriendExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storeError("find friend relationship", err)
	}

	rel := db.FriendRelationship{
		ID:       uuid.NewString(),
		UserID:   userID,
		FriendID: friendID,
		Status:   db.FriendStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&rel).Error; err != nil {
		return nil, storeError("create friend relationship", err)
	}
	return &rel, nil
}

// Respond 由接收方接受或拒绝申请。
func (s *FriendService) Respond(ctx context.Context, requestID, responderID string, accept bool) (*db.FriendRelationship, error) {
	var rel db.FriendRelationship
	err := s.db.WithContext(ctx).
		Where("id = ? AND friend_id = ?", requestID, responderID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFriendNotFound
	}
	if err != nil {
		return nil, storeError("find friend request", err)
	}
	if rel.Status != db.FriendStatusPending {
		return &rel, ErrFriendHandled
	}

	status := db.FriendStatusDeclined
	if accept {
		status = db.FriendStatusAccepted
	}
	res := s.db.WithContext(ctx).Model(&db.FriendRelationship{}).
		Where("id = ? AND status = ?", rel.ID, db.FriendStatusPending).
		Update("status", status)
	if res.Error != nil {
		return nil, storeError("update friend request", res.Error)
	}
	if res.RowsAffected == 0 {
		return &rel, ErrFriendHandled
	}
	rel.Status = status
	return &rel, nil
}

// AcceptedPeers 返回已接受的好友 ID，双向关系都算。
func (s *FriendService) AcceptedPeers(ctx context.Context, userID string) ([]string, error) {
	var rels []db.FriendRelationship
	if err := s.db.WithContext(ctx).
		Where("status = ? AND (user_id = ? OR friend_id = ?)", db.FriendStatusAccepted, userID, userID).
		Find(&rels).Error; err != nil {
		return nil, storeError("list accepted peers", err)
	}

	seen := make(map[string]struct{}, len(rels))
	peers := make([]string, 0, len(rels))
	for _, rel := range rels {
		peer := rel.FriendID
		if peer == userID {
			peer = rel.UserID
		}
		if peer == userID {
			continue
		}
		if _, ok := seen[peer]; ok {
			continue
		}
		seen[peer] = struct{}{}
		peers = append(peers, peer)
	}
	return peers, nil
}
