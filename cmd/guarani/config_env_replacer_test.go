package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type envReplacerTestStruct struct {
	Int    int
	String string
	NotMe  string
}

type envReplacerTest struct {
	Int    int
	String string
	Struct envReplacerTestStruct
}

func TestReplaceEnvKeys(t *testing.T) {
	data := &envReplacerTest{
		String: "$REPLACE_ME",
		Struct: envReplacerTestStruct{
			String: "$ME_TOO",
			NotMe:  "$DOES_NOT_EXIST",
		},
	}

	replacer := func(key string) string {
		switch key {
		case "REPLACE_ME":
			return "foo"
		case "ME_TOO":
			return "bar"
		default:
			return ""
		}
	}

	require.NoError(t, replaceEnvKeys(data, replacer))

	require.Equal(t, "foo", data.String)
	require.Equal(t, "bar", data.Struct.String)
	require.Equal(t, "", data.Struct.NotMe)
}

func TestReplaceEnvKeysReadsProcessEnvironment(t *testing.T) {
	t.Setenv("GUARANI_TEST_ISSUER", "https://issuer.example.test")

	c := &Config{Issuer: "$GUARANI_TEST_ISSUER"}
	require.NoError(t, replaceEnvKeys(c, os.Getenv))
	require.Equal(t, "https://issuer.example.test", c.Issuer)
}
