package name

import (
	"errors"
	"sync"
)

func islower(c byte) bool {
	return c >= 'a' && c <= 'z'
}
func isdigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// SingleCheck checks one name piece:characters must in [a-z][0-9](plus '-'
// when dash is true),the first character must in [a-z],the last character
// must in [a-z][0-9],max 63 characters
func SingleCheck(name string, dash bool) error {
	if len(name) == 0 {
		return errors.New("[name] empty")
	}
	if len(name) > 63 {
		return errors.New("[name] too long")
	}
	if !islower(name[0]) {
		return errors.New("[name] first character must in [a-z]")
	}
	if !islower(name[len(name)-1]) && !isdigit(name[len(name)-1]) {
		return errors.New("[name] last character must in [a-z][0-9]")
	}
	for i := 0; i < len(name); i++ {
		if islower(name[i]) || isdigit(name[i]) || (dash && name[i] == '-') {
			continue
		}
		if dash {
			return errors.New("[name] character must in [a-z][0-9][-]")
		}
		return errors.New("[name] character must in [a-z][0-9]")
	}
	return nil
}

// MakeFullName joins project,group and app into the project-group.app form
func MakeFullName(project, group, app string) (string, error) {
	for _, piece := range []string{project, group, app} {
		if e := SingleCheck(piece, false); e != nil {
			return "", e
		}
	}
	return project + "-" + group + "." + app, nil
}

var lker sync.RWMutex
var fullname string

// SetSelfFullName registers this process's own full name,one time only,
// the observability layer puts it into the service.name resource
func SetSelfFullName(project, group, app string) error {
	lker.Lock()
	defer lker.Unlock()
	if fullname != "" {
		return errors.New("[name] self full name already setted")
	}
	str, e := MakeFullName(project, group, app)
	if e != nil {
		return e
	}
	fullname = str
	return nil
}

func GetSelfFullName() string {
	lker.RLock()
	defer lker.RUnlock()
	return fullname
}

func HasSelfFullName() error {
	lker.RLock()
	defer lker.RUnlock()
	if fullname == "" {
		return errors.New("[name] missing self full name")
	}
	return nil
}
