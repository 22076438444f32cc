// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package mojang

import (
	"context"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"mineskin.org/mineskin/accounts"
	"mineskin.org/mineskin/secrets"
)

// Authenticator runs the per-account token lifecycle:
//
//	EMPTY -> login -> HAS_ACCESS -> validate -> VALID
//	expired access -> refresh -> VALID, refresh failure -> login
//
// Token and counter mutations are persisted through the accounts database.
type Authenticator struct {
	log    *zap.Logger
	client *Client
	codec  *secrets.Codec
	db     accounts.DB
}

// NewAuthenticator creates the auth engine.
func NewAuthenticator(log *zap.Logger, client *Client, codec *secrets.Codec, db accounts.DB) *Authenticator {
	return &Authenticator{log: log, client: client, codec: codec, db: db}
}

// EnsureAuthenticated returns the account with a bearer token that passed
// validation, refreshing or re-logging-in as needed. Any login-path
// failure surfaces as ErrAuth so the scheduler records it as an auth
// failure.
func (auth *Authenticator) EnsureAuthenticated(ctx context.Context, account *accounts.Account, requestIP string) (_ *accounts.Account, err error) {
	defer mon.Task()(&ctx)(&err)

	addr := RequestAddr{UserIP: requestIP, AccountIP: account.RequestIP}

	if account.AccessToken != "" {
		if err := auth.client.Validate(ctx, account.AccessToken, account.ClientToken, addr); err == nil {
			return account, nil
		}

		refreshed, err := auth.client.Refresh(ctx, account.AccessToken, account.ClientToken, addr)
		if err == nil {
			account.AccessToken = refreshed
			return auth.db.Update(ctx, account)
		}

		auth.log.Debug("token refresh failed, falling back to login",
			zap.Int64("account", account.ID), zap.Error(err))
		account.AccessToken = ""
	}

	return auth.login(ctx, account, addr)
}

func (auth *Authenticator) login(ctx context.Context, account *accounts.Account, addr RequestAddr) (*accounts.Account, error) {
	if account.ClientToken == "" {
		token, err := uuid.New()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		account.ClientToken = token.String()
		updated, err := auth.db.Update(ctx, account)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		account = updated
	}

	password, err := auth.codec.Decrypt(account.EncryptedPassword)
	if err != nil {
		return nil, err
	}

	accessToken, err := auth.client.Authenticate(ctx, account.Username, password, account.ClientToken, addr)
	if err != nil {
		return nil, err
	}
	account.AccessToken = accessToken

	if account.EncryptedSecurityAnswer != "" {
		if err := auth.completeChallenges(ctx, account, addr); err != nil {
			return nil, err
		}
	}

	updated, err := auth.db.Update(ctx, account)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	auth.log.Info("account logged in", zap.Int64("account", updated.ID))
	return updated, nil
}

// completeChallenges answers the security questions when the upstream does
// not yet trust this location. The single stored answer applies to every
// question id.
func (auth *Authenticator) completeChallenges(ctx context.Context, account *accounts.Account, addr RequestAddr) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := auth.client.CheckLocation(ctx, account.AccessToken, addr); err == nil {
		return nil
	}

	challenges, err := auth.client.Challenges(ctx, account.AccessToken, addr)
	if err != nil {
		return err
	}
	if len(challenges) == 0 {
		return nil
	}

	answer, err := auth.codec.Decrypt(account.EncryptedSecurityAnswer)
	if err != nil {
		return err
	}

	responses := make([]ChallengeAnswer, 0, len(challenges))
	for _, challenge := range challenges {
		responses = append(responses, ChallengeAnswer{ID: challenge.Answer.ID, Answer: answer})
	}
	if err := auth.client.AnswerChallenges(ctx, account.AccessToken, addr, responses); err != nil {
		return err
	}

	return auth.client.CheckLocation(ctx, account.AccessToken, addr)
}
