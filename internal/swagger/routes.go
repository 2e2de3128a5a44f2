package swagger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
)

const (
	embedJSONPath = "docs/swagger.json"
	diskJSONPath  = "internal/swagger/docs/swagger.json"
	swaggerUIPath = "https://unpkg.com/swagger-ui-dist@5"
)

var uiTemplate = fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Insights API Docs</title>
  <link rel="stylesheet" href="%s/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="%s/swagger-ui-bundle.js"></script>
  <script src="%s/swagger-ui-standalone-preset.js"></script>
  <script>
  window.onload = () => {
    window.ui = SwaggerUIBundle({
      url: '/docs/doc.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
      layout: 'StandaloneLayout',
      deepLinking: true,
      displayRequestDuration: true,
    });
  };
  </script>
</body>
</html>`, swaggerUIPath, swaggerUIPath, swaggerUIPath)

// Register wires swagger-ui routes backed by the generated doc files. The
// served document reports version.
func Register(router fiber.Router, version string) {
	if router == nil {
		return
	}

	router.Get("/docs", func(c fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(uiTemplate)
	})

	router.Get("/docs/doc.json", func(c fiber.Ctx) error {
		data, err := loadDoc(embedJSONPath, diskJSONPath)
		if err != nil {
			return missingSpec(c, err)
		}

		data = applyDocDefaults(data, version)

		c.Type("json", "utf-8")
		return c.Send(data)
	})
}

func missingSpec(c fiber.Ctx, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Swagger doc not generated yet. Run `swag init -g doc.go -o internal/swagger/docs` to create it.",
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "Failed to read swagger doc",
		"error":   err.Error(),
		"path":    filepath.Clean(diskJSONPath),
	})
}

func loadDoc(embedPath string, diskPath string) ([]byte, error) {
	data, err := swaggerDocs.ReadFile(embedPath)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return os.ReadFile(diskPath)
}

func applyDocDefaults(data []byte, version string) []byte {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return data
	}

	info, ok := doc["info"].(map[string]any)
	if !ok {
		info = map[string]any{}
		doc["info"] = info
	}
	if version = strings.TrimSpace(version); version != "" {
		info["version"] = version
	}

	doc["basePath"] = "/"

	encoded, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return data
	}

	return append(encoded, '\n')
}
