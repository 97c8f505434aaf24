package repwriter

import (
	"crypto/md5"
	"crypto/sha1"
	"hash"
)

func newMD5() hash.Hash { return md5.New() }

func newSHA1() hash.Hash { return sha1.New() }

func sha1Sum(content []byte) [20]byte {
	return sha1.Sum(content)
}
