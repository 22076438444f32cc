// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package mojang

import (
	"context"
	"encoding/json"
)

// Challenge is a single security question as served upstream.
type Challenge struct {
	Answer struct {
		ID int64 `json:"id"`
	} `json:"answer"`
	Question struct {
		ID       int64  `json:"id"`
		Question string `json:"question"`
	} `json:"question"`
}

// ChallengeAnswer is the response submitted for one question id.
type ChallengeAnswer struct {
	ID     int64  `json:"id"`
	Answer string `json:"answer"`
}

// CheckLocation reports whether the current location is already trusted;
// a non-2xx answer surfaces as ErrAuth.
func (client *Client) CheckLocation(ctx context.Context, accessToken string, addr RequestAddr) (err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.getJSON(ctx, client.config.AccountBaseURL+"/user/security/location", accessToken, addr)
	if err != nil {
		return ErrAuth.Wrap(err)
	}
	if status/100 != 2 {
		return ErrAuth.New("location not trusted (%d): %s", status, body)
	}
	return nil
}

// Challenges fetches the security question set for the account.
func (client *Client) Challenges(ctx context.Context, accessToken string, addr RequestAddr) (_ []Challenge, err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.getJSON(ctx, client.config.AccountBaseURL+"/user/security/challenges", accessToken, addr)
	if err != nil {
		return nil, ErrAuth.Wrap(err)
	}
	if status/100 != 2 {
		return nil, ErrAuth.New("challenge fetch failed (%d): %s", status, body)
	}

	var challenges []Challenge
	if err := json.Unmarshal(body, &challenges); err != nil {
		return nil, ErrAuth.Wrap(err)
	}
	return challenges, nil
}

// AnswerChallenges submits answers for every question id.
func (client *Client) AnswerChallenges(ctx context.Context, accessToken string, addr RequestAddr, answers []ChallengeAnswer) (err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.postJSON(ctx, client.config.AccountBaseURL+"/user/security/location", accessToken, addr, answers)
	if err != nil {
		return ErrAuth.Wrap(err)
	}
	if status/100 != 2 {
		return ErrAuth.New("challenge answers rejected (%d): %s", status, body)
	}
	return nil
}
