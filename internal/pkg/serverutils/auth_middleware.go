package serverutils

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserIdMiddleware resolves the acting user. A Bearer JWT takes priority when
// present; the gateway-injected X-User-Id header is the fallback for
// deployments that terminate auth upstream.
func UserIdMiddleware(ctx *fiber.Ctx) error {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) >= 7 && authHeader[:7] == "Bearer " {
		tokenStr := authHeader[7:]

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(os.Getenv("JWT_SECRET")), nil
		})
		if err != nil || !token.Valid {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse("Invalid token", nil))
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse("Invalid claims", nil))
		}

		userId, _ := claims["user_id"].(string)
		if _, err := uuid.Parse(userId); err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse("Invalid user id in token", nil))
		}
		ctx.Locals("user_id", userId)
		return ctx.Next()
	}

	headerId := ctx.Get("X-User-Id")
	if _, err := uuid.Parse(headerId); err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse("Missing user identity", nil))
	}
	ctx.Locals("user_id", headerId)
	return ctx.Next()
}
