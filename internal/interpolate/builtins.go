package interpolate

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Func is a built-in function callable as {{$name(args...)}}.
type Func func(ctx *Context, args []string) (any, error)

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	builtinsMu sync.RWMutex
	builtins   = map[string]Func{
		"uuid":          fnUUID,
		"timestamp":     fnTimestamp,
		"isoDate":       fnISODate,
		"random":        fnRandom,
		"randomString":  fnRandomString,
		"env":           fnEnv,
		"file":          fnFile,
		"base64":        fnBase64,
		"base64Decode":  fnBase64Decode,
		"md5":           fnMD5,
		"sha256":        fnSHA256,
		"now":           fnNow,
		"dateAdd":       fnDateAdd,
		"dateSub":       fnDateSub,
		"jsonStringify": fnJSONStringify,
		"lower":         func(_ *Context, a []string) (any, error) { return strings.ToLower(arg(a, 0)), nil },
		"upper":         func(_ *Context, a []string) (any, error) { return strings.ToUpper(arg(a, 0)), nil },
		"trim":          func(_ *Context, a []string) (any, error) { return strings.TrimSpace(arg(a, 0)), nil },
	}

	// now and rnd are swapped in tests.
	now   = time.Now
	rndMu sync.Mutex
	rnd   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RegisterFunc adds or replaces a built-in function.
func RegisterFunc(name string, fn Func) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	builtins[name] = fn
}

// FuncNames lists the registered function names.
func FuncNames() []string {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupBuiltin(name string) (Func, bool) {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	fn, ok := builtins[name]
	return fn, ok
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func fnUUID(_ *Context, _ []string) (any, error) {
	return uuid.New().String(), nil
}

func fnTimestamp(_ *Context, _ []string) (any, error) {
	return now().UnixMilli(), nil
}

func fnISODate(_ *Context, _ []string) (any, error) {
	return now().UTC().Format(isoLayout), nil
}

func fnRandom(_ *Context, args []string) (any, error) {
	lo, hi := 0, 100
	var err error
	if len(args) > 0 {
		if lo, err = strconv.Atoi(args[0]); err != nil {
			return nil, fmt.Errorf("min %q is not an integer", args[0])
		}
	}
	if len(args) > 1 {
		if hi, err = strconv.Atoi(args[1]); err != nil {
			return nil, fmt.Errorf("max %q is not an integer", args[1])
		}
	}
	if hi < lo {
		return nil, fmt.Errorf("max %d is lower than min %d", hi, lo)
	}
	rndMu.Lock()
	defer rndMu.Unlock()
	return lo + rnd.Intn(hi-lo+1), nil
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func fnRandomString(_ *Context, args []string) (any, error) {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return nil, fmt.Errorf("length %q is not a positive integer", args[0])
		}
		n = v
	}
	b := make([]byte, n)
	rndMu.Lock()
	for i := range b {
		b[i] = alphanumeric[rnd.Intn(len(alphanumeric))]
	}
	rndMu.Unlock()
	return string(b), nil
}

func fnEnv(ctx *Context, args []string) (any, error) {
	name := arg(args, 0)
	if name == "" {
		return nil, fmt.Errorf("environment variable name is required")
	}
	v, ok := ctx.lookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}

func fnFile(_ *Context, args []string) (any, error) {
	path := arg(args, 0)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return string(content), nil
}

func fnBase64(_ *Context, args []string) (any, error) {
	return base64.StdEncoding.EncodeToString([]byte(arg(args, 0))), nil
}

func fnBase64Decode(_ *Context, args []string) (any, error) {
	b, err := base64.StdEncoding.DecodeString(arg(args, 0))
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	return string(b), nil
}

func fnMD5(_ *Context, args []string) (any, error) {
	sum := md5.Sum([]byte(arg(args, 0)))
	return hex.EncodeToString(sum[:]), nil
}

func fnSHA256(_ *Context, args []string) (any, error) {
	sum := sha256.Sum256([]byte(arg(args, 0)))
	return hex.EncodeToString(sum[:]), nil
}

func fnNow(_ *Context, args []string) (any, error) {
	t := now().UTC()
	switch arg(args, 0) {
	case "", "iso":
		return t.Format(isoLayout), nil
	case "date":
		return t.Format("2006-01-02"), nil
	case "time":
		return t.Format("15:04:05"), nil
	case "datetime":
		return t.Format("2006-01-02 15:04:05"), nil
	case "unix":
		return t.Unix(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", args[0])
	}
}

func fnDateAdd(_ *Context, args []string) (any, error) {
	return shiftDate(args, 1)
}

func fnDateSub(_ *Context, args []string) (any, error) {
	return shiftDate(args, -1)
}

func shiftDate(args []string, sign int) (any, error) {
	amount, err := strconv.Atoi(arg(args, 0))
	if err != nil {
		return nil, fmt.Errorf("amount %q is not an integer", arg(args, 0))
	}
	amount *= sign
	t := now().UTC()
	switch unit := strings.TrimSuffix(arg(args, 1), "s"); unit {
	case "second":
		t = t.Add(time.Duration(amount) * time.Second)
	case "minute":
		t = t.Add(time.Duration(amount) * time.Minute)
	case "hour":
		t = t.Add(time.Duration(amount) * time.Hour)
	case "", "day":
		t = t.AddDate(0, 0, amount)
	case "week":
		t = t.AddDate(0, 0, 7*amount)
	case "month":
		t = t.AddDate(0, amount, 0)
	case "year":
		t = t.AddDate(amount, 0, 0)
	default:
		return nil, fmt.Errorf("unknown unit %q", arg(args, 1))
	}
	return t.Format(isoLayout), nil
}

func fnJSONStringify(_ *Context, args []string) (any, error) {
	raw := strings.Join(args, ",")
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw, nil
	}
	return string(b), nil
}
