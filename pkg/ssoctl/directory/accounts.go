package directory

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Account is a read-only projection of one directory account.
type Account struct {
	ID    string `json:"accountId"`
	Name  string `json:"accountName"`
	Email string `json:"emailAddress"`
}

// Role names one assumable role in one account.
type Role struct {
	Name      string `json:"roleName"`
	AccountID string `json:"accountId"`
}

// RoleCredentials is a short-lived access key triplet for one account and
// role. The fields here are plaintext for the duration of the call; the
// caller encrypts before persisting.
type RoleCredentials struct {
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Expiration      time.Time `json:"expiration"`
}

type accountListResponse struct {
	Accounts  []Account `json:"accountList"`
	NextToken string    `json:"nextToken,omitempty"`
}

// ListAccounts returns every account the token's user may access, following
// the pagination cursor until the provider stops returning one. Order is
// provider-defined.
func (c *Client) ListAccounts(ctx context.Context, token string) ([]Account, error) {
	var accounts []Account
	nextToken := ""
	for {
		params := url.Values{}
		params.Set("max_result", strconv.Itoa(c.pageSize))
		if nextToken != "" {
			params.Set("next_token", nextToken)
		}
		var page accountListResponse
		if err := c.get(ctx, token, "assignment/accounts", params, &page); err != nil {
			return nil, err
		}
		accounts = append(accounts, page.Accounts...)
		if page.NextToken == "" {
			return accounts, nil
		}
		nextToken = page.NextToken
	}
}

type roleListResponse struct {
	Roles     []Role `json:"roleList"`
	NextToken string `json:"nextToken,omitempty"`
}

// ListRoles returns every role the token's user may assume in accountID.
func (c *Client) ListRoles(ctx context.Context, token, accountID string) ([]Role, error) {
	var roles []Role
	nextToken := ""
	for {
		params := url.Values{}
		params.Set("account_id", accountID)
		params.Set("max_result", strconv.Itoa(c.pageSize))
		if nextToken != "" {
			params.Set("next_token", nextToken)
		}
		var page roleListResponse
		if err := c.get(ctx, token, "assignment/roles", params, &page); err != nil {
			return nil, err
		}
		roles = append(roles, page.Roles...)
		if page.NextToken == "" {
			return roles, nil
		}
		nextToken = page.NextToken
	}
}

type roleCredentialsResponse struct {
	RoleCredentials struct {
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		SessionToken    string `json:"sessionToken"`
		Expiration      int64  `json:"expiration"`
	} `json:"roleCredentials"`
}

// GetRoleCredentials mints credentials for one account and role. A response
// missing any of the three secret fields fails with InvalidResponseError; a
// partially populated credential is never returned.
func (c *Client) GetRoleCredentials(ctx context.Context, token, accountID, roleName string) (*RoleCredentials, error) {
	params := url.Values{}
	params.Set("account_id", accountID)
	params.Set("role_name", roleName)
	var resp roleCredentialsResponse
	if err := c.get(ctx, token, "federation/credentials", params, &resp); err != nil {
		return nil, err
	}
	creds := resp.RoleCredentials
	switch {
	case creds.AccessKeyID == "":
		return nil, &InvalidResponseError{Field: "accessKeyId"}
	case creds.SecretAccessKey == "":
		return nil, &InvalidResponseError{Field: "secretAccessKey"}
	case creds.SessionToken == "":
		return nil, &InvalidResponseError{Field: "sessionToken"}
	}
	return &RoleCredentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expiration:      time.UnixMilli(creds.Expiration),
	}, nil
}
