package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/auth"
	"github.com/ssoctl/ssoctl/pkg/ssoctl/directory"
)

func WriteAccountTable(w io.Writer, accounts []directory.Account) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ACCOUNT_ID\tNAME\tEMAIL")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Name, a.Email)
	}
	_ = tw.Flush()
}

func WriteRoleTable(w io.Writer, roles []directory.Role) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tACCOUNT_ID")
	for _, r := range roles {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", r.Name, r.AccountID)
	}
	_ = tw.Flush()
}

func WriteCredentialTable(w io.Writer, creds *directory.RoleCredentials) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ACCESS_KEY_ID\tEXPIRES")
	_, _ = fmt.Fprintf(tw, "%s\t%s\n", creds.AccessKeyID, formatTime(creds.Expiration))
	_ = tw.Flush()
	_, _ = fmt.Fprintln(w, "Secret key and session token withheld from table output; use --output env or json.")
}

// WriteCredentialEnv prints credentials as shell export lines for eval.
func WriteCredentialEnv(w io.Writer, creds *directory.RoleCredentials) {
	_, _ = fmt.Fprintf(w, "export AWS_ACCESS_KEY_ID=%s\n", creds.AccessKeyID)
	_, _ = fmt.Fprintf(w, "export AWS_SECRET_ACCESS_KEY=%s\n", creds.SecretAccessKey)
	_, _ = fmt.Fprintf(w, "export AWS_SESSION_TOKEN=%s\n", creds.SessionToken)
}

func WriteStatus(w io.Writer, status auth.Status) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Portal:\t%s (%s)\n", status.StartURL, status.Region)
	_, _ = fmt.Fprintf(tw, "Registered:\t%t\n", status.Registered)
	authenticated := "no"
	if status.Authenticated {
		authenticated = "yes, until " + formatTime(status.TokenExpiresAt)
	}
	_, _ = fmt.Fprintf(tw, "Authenticated:\t%s\n", authenticated)
	credentials := "none"
	if status.HasCredentials {
		credentials = fmt.Sprintf("%s/%s, until %s", status.AccountID, status.RoleName, formatTime(status.CredentialsExpireAt))
	}
	_, _ = fmt.Fprintf(tw, "Role credentials:\t%s\n", credentials)
	if status.DegradedEncryption {
		_, _ = fmt.Fprintln(tw, "Warning:\tsecure storage unavailable, secrets use degraded encoding")
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
