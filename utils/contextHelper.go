package utils

import (
	"context"

	"github.com/mmdatafocus/riskwatch_backend/appctx"
)

var (
	ContextKeyUsername         = appctx.ContextKeyUsername
	ContextKeyUserId           = appctx.ContextKeyUserId
	ContextKeyUserName         = appctx.ContextKeyUserName
	ContextKeyUserRole         = appctx.ContextKeyUserRole
	ContextKeyProjectId        = appctx.ContextKeyProjectId
	ContextKeyCorrelationId    = appctx.ContextKeyCorrelationId
	ContextKeySkipRiskTriggers = appctx.ContextKeySkipRiskTriggers
)

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserRole)
}

func GetProjectIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyProjectId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetSkipRiskTriggersFromContext(ctx context.Context) bool {
	v, _ := appctx.GetBool(ctx, ContextKeySkipRiskTriggers)
	return v
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetUserRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyUserRole, role)
}

func SetProjectIdInContext(ctx context.Context, projectId int) context.Context {
	return appctx.Set(ctx, ContextKeyProjectId, projectId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetSkipRiskTriggersInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipRiskTriggers, skip)
}

// SystemContext carries the actor fields hooks expect when no user is involved (workers, sweeps).
func SystemContext(ctx context.Context, actor string) context.Context {
	ctx = SetUserIdInContext(ctx, 0)
	return SetUserNameInContext(ctx, actor)
}
