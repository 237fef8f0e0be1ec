package app

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/router-for-me/gatewayconsole/internal/db"
	log "github.com/sirupsen/logrus"
)

// databaseSummary describes a DSN without its secrets.
type databaseSummary struct {
	Type        string
	Host        string
	Port        int
	User        string
	Name        string
	SSLMode     string
	Path        string
	PasswordSet bool
}

// Fields renders the summary as log fields, leaving out empty values.
func (s databaseSummary) Fields() log.Fields {
	fields := log.Fields{"db_type": s.Type}
	if s.Type == db.DialectSQLite {
		fields["db_path"] = s.Path
		return fields
	}
	if s.Host != "" {
		fields["db_host"] = s.Host + ":" + strconv.Itoa(s.Port)
	}
	if s.Name != "" {
		fields["db_name"] = s.Name
	}
	if s.User != "" {
		fields["db_user"] = s.User
	}
	if s.SSLMode != "" {
		fields["db_sslmode"] = s.SSLMode
	}
	fields["db_password_set"] = s.PasswordSet
	return fields
}

// describeDSN parses dsn into a databaseSummary. Unparseable postgres DSNs
// keep only their type.
func describeDSN(dsn string) databaseSummary {
	trimmed := strings.TrimSpace(dsn)
	dialect, errDialect := db.DialectForDSN(trimmed)
	if errDialect != nil {
		return databaseSummary{Type: "unknown"}
	}
	if dialect == db.DialectSQLite {
		pathPart := trimmed
		if strings.HasPrefix(strings.ToLower(pathPart), "file:") {
			pathPart = pathPart[len("file:"):]
		}
		pathPart, _, _ = strings.Cut(pathPart, "?")
		pathPart = strings.TrimSpace(pathPart)
		if pathPart == "" {
			pathPart = db.DefaultSQLitePath
		}
		return databaseSummary{Type: db.DialectSQLite, Path: pathPart}
	}

	summary := databaseSummary{Type: db.DialectPostgres}
	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return summary
	}
	summary.Port = 5432
	if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
		if parsedPort, errPort := strconv.Atoi(rawPort); errPort == nil {
			summary.Port = parsedPort
		}
	}
	if u.User != nil {
		summary.User = strings.TrimSpace(u.User.Username())
		_, summary.PasswordSet = u.User.Password()
	}
	summary.Host = strings.TrimSpace(u.Hostname())
	summary.Name = strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	summary.SSLMode = strings.TrimSpace(u.Query().Get("sslmode"))
	if summary.SSLMode == "" {
		summary.SSLMode = "disable"
	}
	return summary
}
