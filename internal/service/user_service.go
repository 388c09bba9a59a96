package service

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/model"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/pkg/security"
	"Murmur/internal/repository"
	"context"
	log "log/slog"
	"time"

	"github.com/jinzhu/copier"
)

// UserService 用户服务接口定义
type UserService interface {
	Register(ctx context.Context, req *dto.RegisterReq) (*dto.LoginDTO, error)
	Login(ctx context.Context, req *dto.LoginReq) (*dto.LoginDTO, error)
	Logout(ctx context.Context, token string) error
	GetUserInfo(ctx context.Context, userID uint64) (*dto.UserDTO, error)
}

type userServiceImpl struct {
	userRepo repository.UserRepo
}

func NewUserService(userRepo repository.UserRepo) UserService {
	return &userServiceImpl{userRepo: userRepo}
}

// Register 注册并直接下发令牌
func (s *userServiceImpl) Register(ctx context.Context, req *dto.RegisterReq) (*dto.LoginDTO, error) {
	existing, err := s.userRepo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExist
	}

	hashed, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username: req.Username,
		Password: hashed,
	}
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return s.issueToken(user)
}

func (s *userServiceImpl) Login(ctx context.Context, req *dto.LoginReq) (*dto.LoginDTO, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if err := security.CheckPasswordHash(req.Password, user.Password); err != nil {
		return nil, ErrPasswordIncorrect
	}

	return s.issueToken(user)
}

// Logout 按令牌签名吊销，有效期与令牌一致
func (s *userServiceImpl) Logout(ctx context.Context, token string) error {
	sig, err := security.ExtractSignature(token)
	if err != nil {
		return ErrInvalidToken
	}
	if err := redis.SetWithExpiration(ctx, consts.TokenRevokedKey+sig, 1, 24*time.Hour); err != nil {
		log.ErrorContext(ctx, "token revocation write failed", "err", err)
		return UnExpectedError
	}
	return nil
}

func (s *userServiceImpl) GetUserInfo(ctx context.Context, userID uint64) (*dto.UserDTO, error) {
	user, err := s.userRepo.GetUserById(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	var res dto.UserDTO
	if err := copier.Copy(&res, user); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *userServiceImpl) issueToken(user *model.User) (*dto.LoginDTO, error) {
	token, err := security.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &dto.LoginDTO{
		UserID:   user.ID,
		Username: user.Username,
		Token:    token,
	}, nil
}
