package server

import "html/template"

// errorPageData is the payload for the one case spec §4.3 step 1 calls out
// as never redirected: an invalid client_id or redirect_uri.
type errorPageData struct {
	Message string
}

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Error</title></head>
<body>
<h1>Authorization Error</h1>
<p>{{.Message}}</p>
</body>
</html>
`))
