package util_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/agubarev/ztcp/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestHashKeyStrings(t *testing.T) {
	a := assert.New(t)

	a.Equal(util.HashKeyStrings("src", "dst"), util.HashKeyStrings("src", "dst"))
	a.NotEqual(util.HashKeyStrings("src", "dst"), util.HashKeyStrings("dst", "src"))
	a.NotEqual(util.HashKeyStrings("ab", "c"), util.HashKeyStrings("a", "bc"))
}

func TestKeyedMutex(t *testing.T) {
	a := assert.New(t)

	km := util.NewKeyedMutex()
	counter := map[string]*int{"even": new(int), "odd": new(int)}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := "even"
			if i%2 == 1 {
				key = "odd"
			}

			unlock := km.Lock(key)
			*counter[key]++
			unlock()
		}(i)
	}
	wg.Wait()

	a.Equal(50, *counter["even"])
	a.Equal(50, *counter["odd"])

	// every entry is released once nobody holds it
	a.Zero(km.Len())
}

func TestProtectedChangelog(t *testing.T) {
	a := assert.New(t)

	type view struct {
		ID   string `diff:"id"`
		Name string `diff:"name"`
	}

	changelog, err := util.ProtectedChangelog(map[string]bool{"id": true}, view{"1", "a"}, view{"1", "b"})
	a.NoError(err)
	a.Len(changelog, 1)
	a.Equal("name", changelog[0].Path[0])

	_, err = util.ProtectedChangelog(map[string]bool{"id": true}, view{"1", "a"}, view{"2", "a"})
	a.ErrorIs(err, util.ErrProtectedField)
}

func TestPrettyJSON(t *testing.T) {
	a := assert.New(t)

	buf, err := util.PrettyJSON(map[string]int{"b": 2, "a": 1}, false)
	a.NoError(err)
	a.Equal("{\n  \"a\": 1,\n  \"b\": 2\n}\n", string(buf))
}

func TestConsoleLoggerStreams(t *testing.T) {
	a := assert.New(t)

	var low, high bytes.Buffer

	logger, err := util.ConsoleLogger(false, "", &low, &high)
	a.NoError(err)

	logger.Debug("hidden")
	logger.Info("routine")
	logger.Error("broken")

	a.Contains(low.String(), "routine")
	a.NotContains(low.String(), "hidden")
	a.NotContains(low.String(), "broken")
	a.Contains(high.String(), "broken")
	a.NotContains(high.String(), "routine")
}
