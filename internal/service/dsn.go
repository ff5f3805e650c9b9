package service

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"querydeck/internal/core"
)

var defaultPorts = map[string]int{
	"postgres":  5432,
	"pgx":       5432,
	"mysql":     3306,
	"sqlserver": 1433,
}

// DriverKinds lists the drivers a connection may use and the kind each implies.
var DriverKinds = map[string]core.ConnectionKind{
	"sqlite":    core.KindFile,
	"postgres":  core.KindHost,
	"pgx":       core.KindHost,
	"mysql":     core.KindHost,
	"sqlserver": core.KindHost,
	"odbc":      core.KindHost,
}

// BuildDSN turns a descriptor into the database/sql driver name and data
// source string. conn.Password must already be decrypted.
func BuildDSN(conn core.ConnectionDescriptor) (string, string, error) {
	switch conn.Driver {
	case "sqlite":
		if conn.Path == "" {
			return "", "", fmt.Errorf("sqlite connection %q has no file path", conn.Name)
		}
		dsn := conn.Path
		if len(conn.Options) > 0 {
			dsn += "?" + encodeValues(conn.Options)
		}
		return "sqlite", dsn, nil

	case "postgres", "pgx":
		u := url.URL{
			Scheme: "postgres",
			Host:   hostPort(conn),
			Path:   "/" + conn.Database,
		}
		if conn.User != "" {
			u.User = url.UserPassword(conn.User, conn.Password)
		}
		opts := copyOptions(conn.Options)
		if _, ok := opts["sslmode"]; !ok {
			opts["sslmode"] = "disable"
		}
		u.RawQuery = encodeValues(opts)
		return conn.Driver, u.String(), nil

	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = conn.User
		cfg.Passwd = conn.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort(conn)
		cfg.DBName = conn.Database
		cfg.ParseTime = true
		if len(conn.Options) > 0 {
			cfg.Params = copyOptions(conn.Options)
		}
		return "mysql", cfg.FormatDSN(), nil

	case "sqlserver":
		u := url.URL{
			Scheme: "sqlserver",
			Host:   hostPort(conn),
		}
		if conn.User != "" {
			u.User = url.UserPassword(conn.User, conn.Password)
		}
		opts := copyOptions(conn.Options)
		if conn.Database != "" {
			opts["database"] = conn.Database
		}
		u.RawQuery = encodeValues(opts)
		return "sqlserver", u.String(), nil

	case "odbc":
		return "odbc", odbcDSN(conn), nil

	default:
		return "", "", fmt.Errorf("unsupported driver %q", conn.Driver)
	}
}

func hostPort(conn core.ConnectionDescriptor) string {
	host := conn.Host
	if host == "" {
		host = "localhost"
	}
	port := conn.Port
	if port == 0 {
		port = defaultPorts[conn.Driver]
	}
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// odbcDSN builds a "Key=Value;" connection string. A "dsn" option names a
// configured data source; otherwise "driver" names the ODBC driver.
func odbcDSN(conn core.ConnectionDescriptor) string {
	opts := copyOptions(conn.Options)
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	if dsn, ok := opts["dsn"]; ok {
		add("DSN", dsn)
		delete(opts, "dsn")
	} else {
		if d, ok := opts["driver"]; ok {
			add("Driver", "{"+strings.Trim(d, "{}")+"}")
			delete(opts, "driver")
		}
		add("Server", conn.Host)
		if conn.Port != 0 {
			add("Port", strconv.Itoa(conn.Port))
		}
		add("Database", conn.Database)
	}
	add("UID", conn.User)
	add("PWD", conn.Password)

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, opts[k])
	}
	return strings.Join(parts, ";") + ";"
}

func copyOptions(opts map[string]string) map[string]string {
	out := make(map[string]string, len(opts)+1)
	for k, v := range opts {
		out[k] = v
	}
	return out
}

func encodeValues(opts map[string]string) string {
	v := url.Values{}
	for k, val := range opts {
		v.Set(k, val)
	}
	return v.Encode()
}
