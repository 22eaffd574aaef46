package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wildfire-guardrail/engine/pkg/contracts"
	"github.com/wildfire-guardrail/engine/pkg/models"
)

// UserAuthorizationMatrixProcedure returns the full user/role/group/title
// roster used to build the authorization matrix.
const UserAuthorizationMatrixProcedure = "wf_guardrail_user_Authorization_matrix"

// UserAuthorizationMatrixCacheKey is the fixed cache key for the built
// matrix blob (spec §6).
const UserAuthorizationMatrixCacheKey = "Guardrail:UserAuthorizationMatrix"

// UserAuthorizationMatrix builds a cross-indexed view of users, roles,
// groups and titles so rules can test e.g. "is this email a member of
// role X" via a plain path lookup (spec §4.1).
type UserAuthorizationMatrix struct {
	store contracts.RecordStore
	cache contracts.KVCache
	ttl   time.Duration
}

// NewUserAuthorizationMatrix constructs the source.
func NewUserAuthorizationMatrix(store contracts.RecordStore, cache contracts.KVCache, ttl time.Duration) *UserAuthorizationMatrix {
	return &UserAuthorizationMatrix{store: store, cache: cache, ttl: ttl}
}

func (u *UserAuthorizationMatrix) Name() string { return "user_authorization_matrix" }

func (u *UserAuthorizationMatrix) Fetch(ctx context.Context, _ models.Value) (models.Value, error) {
	if blob, ok, err := u.cache.Get(ctx, UserAuthorizationMatrixCacheKey); err == nil && ok {
		v, err := models.ParseJSON(string(blob))
		if err == nil && v.Kind == models.KindObject {
			return v, nil
		}
		log.Warn().Msg("user_authorization_matrix: cached blob corrupt, reloading")
	}

	rows, err := u.store.Call(ctx, UserAuthorizationMatrixProcedure)
	if err != nil {
		return models.Null, contracts.NewError(contracts.ErrDataSource, fmt.Sprintf("user_authorization_matrix: %v", err))
	}

	users := map[string]*userEntry{}
	roles := map[string]map[string]struct{}{}
	groups := map[string]map[string]struct{}{}
	titles := map[string]map[string]struct{}{}

	for _, row := range rows {
		email := normalizeEmail(asString(row["email"]))
		if email == "" {
			continue
		}
		role := asString(row["role"])
		group := asString(row["group_name"])
		title := asString(row["title"])

		e, ok := users[email]
		if !ok {
			e = &userEntry{}
			users[email] = e
		}
		e.addRole(role)
		e.addGroup(group)
		e.addTitle(title)

		addMember(roles, role, email)
		addMember(groups, group, email)
		addMember(titles, title, email)
	}

	value := models.ObjectValue(map[string]models.Value{
		"users":  usersToValue(users),
		"roles":  membersToValue(roles),
		"groups": membersToValue(groups),
		"titles": membersToValue(titles),
	})

	if blob, err := json.Marshal(value); err == nil {
		if err := u.cache.Set(ctx, UserAuthorizationMatrixCacheKey, blob, u.ttl); err != nil {
			log.Warn().Err(err).Msg("user_authorization_matrix: failed to populate cache")
		}
	}

	return value, nil
}

type userEntry struct {
	roles  []string
	groups []string
	titles []string
}

func (e *userEntry) addRole(v string) {
	if v != "" && !contains(e.roles, v) {
		e.roles = append(e.roles, v)
	}
}
func (e *userEntry) addGroup(v string) {
	if v != "" && !contains(e.groups, v) {
		e.groups = append(e.groups, v)
	}
}
func (e *userEntry) addTitle(v string) {
	if v != "" && !contains(e.titles, v) {
		e.titles = append(e.titles, v)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func addMember(index map[string]map[string]struct{}, key, email string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = map[string]struct{}{}
		index[key] = set
	}
	set[email] = struct{}{}
}

func usersToValue(users map[string]*userEntry) models.Value {
	out := make(map[string]models.Value, len(users))
	for email, e := range users {
		out[email] = models.ObjectValue(map[string]models.Value{
			"role":  stringsToArray(e.roles),
			"group": stringsToArray(e.groups),
			"title": stringsToArray(e.titles),
		})
	}
	return models.ObjectValue(out)
}

func membersToValue(index map[string]map[string]struct{}) models.Value {
	out := make(map[string]models.Value, len(index))
	for key, set := range index {
		emails := make([]string, 0, len(set))
		for email := range set {
			emails = append(emails, email)
		}
		out[key] = stringsToArray(emails)
	}
	return models.ObjectValue(out)
}

func stringsToArray(values []string) models.Value {
	arr := make([]models.Value, len(values))
	for i, v := range values {
		arr[i] = models.StringValue(v)
	}
	return models.ArrayValue(arr)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
