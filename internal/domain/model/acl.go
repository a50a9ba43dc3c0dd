package model

import (
	"fmt"
	"strings"
)

// ACL — права доступа к каталогу приватного FTP.
type ACL string

const (
	// ACLReadOnly — только чтение для всех (0550)
	ACLReadOnly ACL = "READ_ONLY"
	// ACLAuthorizedRead — чтение авторизованным (0750)
	ACLAuthorizedRead ACL = "AUTHORIZED_READ"
	// ACLAuthorizedReadWrite — чтение и запись авторизованным (0770)
	ACLAuthorizedReadWrite ACL = "AUTHORIZED_READ_WRITE"
)

// aclModes — единая таблица соответствия ACL и прав файловой системы.
// Числовые и именованные проверки используют только её.
var aclModes = []struct {
	acl  ACL
	mode uint32
}{
	{ACLAuthorizedReadWrite, 0o770},
	{ACLAuthorizedRead, 0o750},
	{ACLReadOnly, 0o550},
}

// Mode возвращает права файловой системы для ACL.
func (a ACL) Mode() uint32 {
	for _, m := range aclModes {
		if m.acl == a {
			return m.mode
		}
	}
	return 0
}

// Octal возвращает восьмеричный токен ACL (например, "770").
func (a ACL) Octal() string {
	return fmt.Sprintf("%o", a.Mode())
}

// Valid проверяет, что ACL известен.
func (a ACL) Valid() bool {
	return a.Mode() != 0
}

// ACLFromMode сопоставляет права файловой системы с ACL.
// Учитываются только биты владельца и группы и право чтения прочих.
func ACLFromMode(mode uint32) (ACL, error) {
	perm := mode & 0o777
	for _, m := range aclModes {
		if perm == m.mode {
			return m.acl, nil
		}
	}
	return "", fmt.Errorf("права %o не соответствуют ни одному ACL", perm)
}

// ParseACL разбирает ACL из имени (READ_ONLY …) или восьмеричного токена (550, 0750, 0o770).
func ParseACL(v string) (ACL, error) {
	v = strings.TrimSpace(v)
	upper := strings.ToUpper(v)
	for _, m := range aclModes {
		if string(m.acl) == upper {
			return m.acl, nil
		}
	}
	token := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(v), "0o"), "0")
	var mode uint32
	if _, err := fmt.Sscanf(token, "%o", &mode); err != nil || token == "" {
		return "", fmt.Errorf("неизвестный ACL: %q", v)
	}
	return ACLFromMode(mode)
}
